package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"name":  "Jan de Vries",
		"email": "jan@example.com",
		"exp":   exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret-test-secret-test-sec"))
	require.NoError(t, err)
	return s
}

type fakeProvider struct {
	mu          sync.Mutex
	check       func(handle string) (*Tokens, error)
	refresh     func(handle string) (*Tokens, error)
	checkCalls  int
	logoutCalls int
	refreshes   atomic.Int32
	refreshCtx  error // ctx.Err() seen by the last Refresh once it returned
}

func (p *fakeProvider) CheckSession(_ context.Context, handle string) (*Tokens, error) {
	p.mu.Lock()
	p.checkCalls++
	p.mu.Unlock()
	return p.check(handle)
}

func (p *fakeProvider) Refresh(ctx context.Context, handle string) (*Tokens, error) {
	p.refreshes.Add(1)
	t, err := p.refresh(handle)
	p.mu.Lock()
	p.refreshCtx = ctx.Err()
	p.mu.Unlock()
	return t, err
}

func (p *fakeProvider) checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkCalls
}

func (p *fakeProvider) LoginURL(returnTo string) string {
	return "https://id.example.com/login?return_to=" + returnTo
}

func (p *fakeProvider) Logout(context.Context, Tokens) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutCalls++
	return nil
}

type fakeSubjects struct {
	mu      sync.Mutex
	subject string
}

func (f *fakeSubjects) SaveSubject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = id
	return nil
}

func (f *fakeSubjects) ClearSubject(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = ""
	return nil
}

func (f *fakeSubjects) get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subject
}

type fakeNav struct {
	mu   sync.Mutex
	urls []string
}

func (n *fakeNav) Redirect(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *fakeNav) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.urls) == 0 {
		return ""
	}
	return n.urls[len(n.urls)-1]
}
