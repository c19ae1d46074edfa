package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	provider *fakeProvider
	tokens   *TokenStore
	subjects *fakeSubjects
	nav      *fakeNav
	session  *Session

	mu      sync.Mutex
	changes []Change
}

func newSessionFixture(t *testing.T, p *fakeProvider) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		provider: p,
		tokens:   NewTokenStore(p, nil, WithRefreshInterval(time.Hour)),
		subjects: &fakeSubjects{},
		nav:      &fakeNav{},
	}
	f.session = NewSession(p, f.tokens, f.subjects, f.nav, nil, SessionConfig{HomeURL: "/"})
	f.session.Subscribe(func(c Change) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.changes = append(f.changes, c)
	})
	t.Cleanup(f.tokens.Clear)
	return f
}

func (f *sessionFixture) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, 0, len(f.changes))
	for _, c := range f.changes {
		out = append(out, c.To)
	}
	return out
}

func TestSession_Init(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticates and persists subject", func(t *testing.T) {
		p := &fakeProvider{check: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: signToken(t, "user-1", time.Now().Add(time.Hour)), RefreshToken: "r1"}, nil
		}}
		f := newSessionFixture(t, p)

		assert.True(t, f.session.IsLoading())
		assert.Equal(t, StateAuthenticated, f.session.Init(ctx))

		assert.True(t, f.session.Authenticated())
		assert.False(t, f.session.IsLoading())
		assert.Equal(t, "user-1", f.session.SubjectID())
		assert.Equal(t, "Jan de Vries", f.session.Profile().DisplayName)
		assert.Equal(t, "user-1", f.subjects.get())
		assert.Equal(t, []State{StateChecking, StateAuthenticated}, f.states())
	})

	t.Run("no session resolves unauthenticated", func(t *testing.T) {
		p := &fakeProvider{check: func(string) (*Tokens, error) { return nil, ErrNoSession }}
		f := newSessionFixture(t, p)

		assert.Equal(t, StateUnauthenticated, f.session.Init(ctx))
		assert.Nil(t, f.session.Profile())
	})

	t.Run("unreachable provider fails closed", func(t *testing.T) {
		p := &fakeProvider{check: func(string) (*Tokens, error) {
			return nil, errors.Join(ErrProviderUnavailable, errors.New("connection refused"))
		}}
		f := newSessionFixture(t, p)

		assert.Equal(t, StateUnauthenticated, f.session.Init(ctx))
		assert.Equal(t, []State{StateChecking, StateUnauthenticated}, f.states())
	})

	t.Run("resolves exactly once per mount", func(t *testing.T) {
		p := &fakeProvider{check: func(string) (*Tokens, error) { return nil, ErrNoSession }}
		f := newSessionFixture(t, p)

		f.session.Init(ctx)
		f.session.Init(ctx)

		assert.Equal(t, 1, p.checkCalls)
		assert.Len(t, f.states(), 2)
	})

	t.Run("session without subject is rejected", func(t *testing.T) {
		p := &fakeProvider{check: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "opaque"}, nil
		}}
		f := newSessionFixture(t, p)

		assert.Equal(t, StateUnauthenticated, f.session.Init(ctx))
	})
}

func TestSession_Callback(t *testing.T) {
	p := &fakeProvider{check: func(handle string) (*Tokens, error) {
		if handle == "" {
			return nil, ErrNoSession
		}
		return &Tokens{AccessToken: "opaque", RefreshToken: handle, UserID: "kratos-7"}, nil
	}}
	f := newSessionFixture(t, p)

	require.Equal(t, StateUnauthenticated, f.session.Init(context.Background()))
	assert.Equal(t, StateAuthenticated, f.session.Callback(context.Background(), "ory_st_abc"))
	assert.Equal(t, "kratos-7", f.session.SubjectID())
}

func TestSession_LoginRedirects(t *testing.T) {
	f := newSessionFixture(t, &fakeProvider{})
	f.session.Login("/onboarding")
	assert.Equal(t, "https://id.example.com/login?return_to=/onboarding", f.nav.last())
}

func TestSession_Logout(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{check: func(string) (*Tokens, error) {
		return &Tokens{AccessToken: "opaque", RefreshToken: "r1", UserID: "u1"}, nil
	}}
	f := newSessionFixture(t, p)

	var cleaned bool
	f.session.OnLogout(func(context.Context) {
		// Cleanup runs before unauthenticated is published.
		assert.True(t, f.session.Authenticated())
		cleaned = true
	})

	f.session.Init(ctx)
	f.session.Logout(ctx)

	assert.True(t, cleaned)
	assert.Equal(t, 1, p.logoutCalls)
	assert.False(t, f.session.Authenticated())
	assert.Empty(t, f.subjects.get())
	assert.Equal(t, "/", f.nav.last())
	_, ok := f.tokens.Tokens()
	assert.False(t, ok)
}

func TestSession_RefreshSuccessKeepsState(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{
		check: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "a1", RefreshToken: "r1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		refresh: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "a2", ExpiresAt: time.Now().Add(2 * time.Hour)}, nil
		},
	}
	f := newSessionFixture(t, p)
	f.session.Init(ctx)

	_, err := f.tokens.Refresh(ctx)
	require.NoError(t, err)

	assert.True(t, f.session.Authenticated())
	assert.Len(t, f.states(), 2, "refresh does not publish a transition")

	f.session.mu.RLock()
	defer f.session.mu.RUnlock()
	assert.Equal(t, "a2", f.session.identity.Tokens.AccessToken)
}

func TestSession_RefreshFailureForcesLogout(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{
		check: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "a1", RefreshToken: "r1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		refresh: func(string) (*Tokens, error) { return nil, ErrRefreshRejected },
	}
	f := newSessionFixture(t, p)

	var cleaned bool
	f.session.OnLogout(func(context.Context) { cleaned = true })
	f.session.Init(ctx)

	_, err := f.tokens.Refresh(ctx)
	require.ErrorIs(t, err, ErrRefreshRejected)

	assert.Equal(t, StateUnauthenticated, f.session.State())
	assert.True(t, cleaned)
	assert.Zero(t, p.logoutCalls, "forced logout does not call the provider")
	assert.Equal(t, "/", f.nav.last())
}

func TestSession_ExpiryEventRefreshes(t *testing.T) {
	p := &fakeProvider{
		check: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "a1", RefreshToken: "r1", UserID: "u1", ExpiresAt: time.Now().Add(30 * time.Millisecond)}, nil
		},
		refresh: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "a2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	f := newSessionFixture(t, p)
	f.session.Init(context.Background())

	require.Eventually(t, func() bool {
		tok, _ := f.tokens.Tokens()
		return tok.AccessToken == "a2"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.session.Authenticated())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "checking", StateChecking.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
}

func TestSession_CancelledRequestKeepsSession(t *testing.T) {
	p := &fakeProvider{
		check: func(string) (*Tokens, error) {
			return &Tokens{AccessToken: "a1", RefreshToken: "r1", UserID: "u1", ExpiresAt: time.Now().Add(20 * time.Second)}, nil
		},
		refresh: func(string) (*Tokens, error) { return nil, context.Canceled },
	}
	f := newSessionFixture(t, p)
	f.session.Init(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, f.tokens.CurrentToken(ctx, time.Minute))

	_, err := f.tokens.Refresh(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateAuthenticated, f.session.State())
	assert.Empty(t, f.nav.last())
	assert.Equal(t, "u1", f.subjects.get())
}

func TestSession_Unauthorized(t *testing.T) {
	p := &fakeProvider{check: func(string) (*Tokens, error) {
		return &Tokens{AccessToken: "a1", RefreshToken: "r1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	f := newSessionFixture(t, p)

	var cleaned int
	f.session.OnLogout(func(context.Context) { cleaned++ })

	f.session.Unauthorized(errors.New("settings service returned 401"))
	assert.Zero(t, cleaned, "ignored before authentication")

	f.session.Init(context.Background())
	f.session.Unauthorized(errors.New("settings service returned 401"))

	assert.Equal(t, StateUnauthenticated, f.session.State())
	assert.Equal(t, 1, cleaned)
	assert.Zero(t, p.logoutCalls)
	assert.Empty(t, f.subjects.get())
	assert.Equal(t, "/", f.nav.last())
	_, ok := f.tokens.Tokens()
	assert.False(t, ok)
}

func TestSession_ConcurrentInitChecksOnce(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{check: func(string) (*Tokens, error) {
		<-release
		return &Tokens{AccessToken: "a1", RefreshToken: "r1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	f := newSessionFixture(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.session.Init(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return p.checks() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, p.checks())
	assert.Equal(t, StateAuthenticated, f.session.State())
	assert.Equal(t, []State{StateChecking, StateAuthenticated}, f.states())
}
