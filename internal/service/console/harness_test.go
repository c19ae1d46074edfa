package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/gateway"
	"github.com/r2r72/x-sm-backoffice/internal/service/guard"
	"github.com/r2r72/x-sm-backoffice/internal/service/onboarding"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

// provider is an identity provider with a switchable refresh outcome.
type provider struct {
	mu         sync.Mutex
	loggedIn   bool
	refreshErr error
}

func (p *provider) CheckSession(_ context.Context, handle string) (*auth.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loggedIn && handle == "" {
		return nil, auth.ErrNoSession
	}
	return &auth.Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		UserID:       "user-1",
		DisplayName:  "Jan",
	}, nil
}

func (p *provider) Refresh(_ context.Context, handle string) (*auth.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &auth.Tokens{AccessToken: "access-2", ExpiresAt: time.Now().Add(time.Hour), UserID: "user-1"}, nil
}

func (p *provider) LoginURL(returnTo string) string {
	return "https://id.example.com/login?return_to=" + returnTo
}

func (p *provider) Logout(context.Context, auth.Tokens) error { return nil }

func (p *provider) failRefresh(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshErr = err
}

// memState is the durable client state.
type memState struct {
	mu      sync.Mutex
	shopID  string
	subject string
}

func (m *memState) ActiveShop(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shopID, nil
}

func (m *memState) SaveActiveShop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shopID = id
	return nil
}

func (m *memState) ClearActiveShop(context.Context) error { return m.SaveActiveShop(context.Background(), "") }

func (m *memState) SaveSubject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subject = id
	return nil
}

func (m *memState) ClearSubject(context.Context) error { return m.SaveSubject(context.Background(), "") }

func (m *memState) shop() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shopID
}

// backend fakes the settings service.
type backend struct {
	mu          sync.Mutex
	shops       []tenant.Shop
	statuses    map[string]onboarding.Status
	statusCalls map[string]int
	writeStatus int // when set, status writes fail with this code
}

func newBackend(shops ...tenant.Shop) *backend {
	return &backend{
		shops:       shops,
		statuses:    map[string]onboarding.Status{},
		statusCalls: map[string]int{},
	}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.URL.Path {
	case "/settings/settings/shops":
		_ = json.NewEncoder(w).Encode(b.shops)
	case "/settings/settings/onboarding/status":
		shopID := r.Header.Get(gateway.HeaderShopID)
		if shopID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s := b.statuses[shopID]
		if r.Method == http.MethodPost && b.writeStatus != 0 {
			w.WriteHeader(b.writeStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(b.writeStatus)})
			return
		}
		if r.Method == http.MethodPost {
			var patch map[string]bool
			_ = json.NewDecoder(r.Body).Decode(&patch)
			if patch["apiConfigured"] {
				s.APIConfigured = true
			}
			if patch["catalogSynced"] {
				s.CatalogSynced = true
			}
			if patch["vatConfigured"] {
				s.VATConfigured = true
			}
			if patch["invoicingConfigured"] {
				s.InvoicingConfigured = true
			}
			b.statuses[shopID] = s
		} else {
			b.statusCalls[shopID]++
		}
		_ = json.NewEncoder(w).Encode(s)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *backend) failWrites(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeStatus = status
}

func (b *backend) calls(shopID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls[shopID]
}

type harness struct {
	console  *Console
	registry *tenant.Registry
	engine   *onboarding.Engine
	provider *provider
	state    *memState
	backend  *backend
	tokens   *auth.TokenStore
}

func newHarness(t *testing.T, loggedIn bool, savedShop string, b *backend) *harness {
	t.Helper()

	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	p := &provider{loggedIn: loggedIn}
	state := &memState{shopID: savedShop}
	tokens := auth.NewTokenStore(p, nil, auth.WithRefreshInterval(time.Hour))
	redirects := &Redirects{}
	session := auth.NewSession(p, tokens, state, redirects, nil, auth.SessionConfig{HomeURL: "/"})

	gw := gateway.New(gateway.Config{
		Services:       map[string]string{"settings": srv.URL},
		Retry:          gateway.NoRetry(),
		OnUnauthorized: session.Unauthorized,
	}, tokens, session, state, nil)

	registry := tenant.NewRegistry(tenant.NewAPI(gw), state, nil)
	engine := onboarding.NewEngine(onboarding.NewAPI(gw), nil)
	c := New(Deps{
		Session:   session,
		Registry:  registry,
		Engine:    engine,
		Policy:    guard.DefaultPolicy(),
		Redirects: redirects,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		tokens.Clear()
	})

	h := &harness{console: c, registry: registry, engine: engine, provider: p, state: state, backend: b, tokens: tokens}
	h.settle(t)
	return h
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.console.WaitIdle(ctx))
}

var errRefreshRejected = errors.New("refresh token revoked")
