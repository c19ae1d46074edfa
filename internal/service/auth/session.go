package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/metrics"
)

// DefaultExpiryGrace is the validity window used when an expiry event
// triggers a refresh.
const DefaultExpiryGrace = 5 * time.Second

// SessionConfig holds Session settings.
type SessionConfig struct {
	HomeURL     string        // redirect target after logout
	ExpiryGrace time.Duration // refresh window used on token expiry events
}

// Session owns the login/logout lifecycle and the Identity.
//
// States: uninitialized -> checking -> {authenticated, unauthenticated}.
// Any failure during checking resolves to unauthenticated. A refresh failure
// while authenticated forces a logout.
type Session struct {
	provider IdentityProvider
	tokens   *TokenStore
	subjects SubjectStore
	nav      Navigator
	logger   *zap.Logger
	cfg      SessionConfig

	mu        sync.RWMutex
	state     State
	identity  *Identity
	listeners []func(Change)
	cleanups  []func(context.Context)
}

// NewSession creates a Session and registers its token handlers on tokens.
func NewSession(
	provider IdentityProvider,
	tokens *TokenStore,
	subjects SubjectStore,
	nav Navigator,
	log *zap.Logger,
	cfg SessionConfig,
) *Session {
	if cfg.HomeURL == "" {
		cfg.HomeURL = "/"
	}
	if cfg.ExpiryGrace <= 0 {
		cfg.ExpiryGrace = DefaultExpiryGrace
	}

	s := &Session{
		provider: provider,
		tokens:   tokens,
		subjects: subjects,
		nav:      nav,
		logger:   logger.OrNop(log).Named("session"),
		cfg:      cfg,
	}

	tokens.OnTokenRefreshed(s.handleRefreshed)
	tokens.OnRefreshFailed(s.handleRefreshFailed)
	tokens.OnTokenExpired(s.handleExpired)
	return s
}

// Subscribe registers a listener for state transitions. Listeners run on
// the goroutine that caused the transition and must not block.
func (s *Session) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnLogout registers cleanup run on every logout, forced or not, before
// the session reports unauthenticated.
func (s *Session) OnLogout(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// Init runs the silent session check. It resolves exactly once: later and
// concurrent calls return the current state without contacting the provider.
func (s *Session) Init(ctx context.Context) State {
	s.mu.Lock()
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return state
	}
	from, change, listeners := s.setStateLocked(StateChecking, nil)
	s.mu.Unlock()

	s.announce(from, change, listeners)
	return s.resolve(ctx, "")
}

// Callback reinitializes the session with the handle delivered by the
// provider's login redirect.
func (s *Session) Callback(ctx context.Context, handle string) State {
	return s.check(ctx, handle)
}

// Login redirects to the identity provider.
func (s *Session) Login(returnTo string) {
	s.nav.Redirect(s.provider.LoginURL(returnTo))
}

// Logout ends the session at the provider, clears the Identity and all
// dependent state, then redirects home.
func (s *Session) Logout(ctx context.Context) {
	s.end(ctx, true)
	s.nav.Redirect(s.cfg.HomeURL)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Authenticated reports whether the session is authenticated.
func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// IsLoading reports whether the silent check has not resolved yet.
func (s *Session) IsLoading() bool {
	return !s.State().Resolved()
}

// Profile returns the current profile, or nil when unauthenticated.
func (s *Session) Profile() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profileLocked()
}

// SubjectID returns the authenticated subject, or "".
func (s *Session) SubjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.SubjectID
}

func (s *Session) check(ctx context.Context, handle string) State {
	s.transition(StateChecking, nil)
	return s.resolve(ctx, handle)
}

func (s *Session) resolve(ctx context.Context, handle string) State {
	t, err := s.provider.CheckSession(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			s.logger.Info("no identity session")
		} else {
			s.logger.Warn("session check failed, treating as unauthenticated", zap.Error(err))
		}
		s.tokens.Clear()
		s.transition(StateUnauthenticated, nil)
		return StateUnauthenticated
	}

	id := identityFromTokens(*t)
	if id.SubjectID == "" || id.Tokens.AccessToken == "" {
		s.logger.Warn("identity provider returned a session without subject")
		s.tokens.Clear()
		s.transition(StateUnauthenticated, nil)
		return StateUnauthenticated
	}

	s.tokens.Set(id.Tokens)
	s.tokens.Start()
	if err := s.subjects.SaveSubject(ctx, id.SubjectID); err != nil {
		s.logger.Warn("failed to persist subject", zap.Error(err))
	}

	s.transition(StateAuthenticated, &id)
	return StateAuthenticated
}

func (s *Session) end(ctx context.Context, atProvider bool) {
	s.mu.RLock()
	identity := s.identity
	cleanups := append([]func(context.Context){}, s.cleanups...)
	s.mu.RUnlock()

	if atProvider && identity != nil {
		if err := s.provider.Logout(ctx, identity.Tokens); err != nil {
			s.logger.Warn("provider logout failed", zap.Error(err))
		}
	}

	s.tokens.Clear()
	if err := s.subjects.ClearSubject(ctx); err != nil {
		s.logger.Warn("failed to clear subject", zap.Error(err))
	}
	for _, fn := range cleanups {
		fn(ctx)
	}

	s.transition(StateUnauthenticated, nil)
}

func (s *Session) handleRefreshed(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		s.identity.Tokens = t
	}
}

// Unauthorized forces a logout after a backend service rejected the access
// token. It does nothing unless the session is authenticated.
func (s *Session) Unauthorized(err error) {
	if s.State() != StateAuthenticated {
		return
	}
	s.logger.Warn("access token rejected by backend, forcing logout", zap.Error(err))
	s.forceLogout()
}

func (s *Session) handleRefreshFailed(err error) {
	if s.State() != StateAuthenticated {
		return
	}
	s.logger.Warn("refresh failed, forcing logout", zap.Error(err))
	s.forceLogout()
}

// forceLogout ends the session without contacting the provider.
func (s *Session) forceLogout() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.end(ctx, false)
	s.nav.Redirect(s.cfg.HomeURL)
}

func (s *Session) handleExpired() {
	if s.State() != StateAuthenticated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// A failure here is routed through handleRefreshFailed.
	s.tokens.CurrentToken(ctx, s.cfg.ExpiryGrace)
}

func (s *Session) transition(to State, identity *Identity) {
	s.mu.Lock()
	from, change, listeners := s.setStateLocked(to, identity)
	s.mu.Unlock()

	s.announce(from, change, listeners)
}

// setStateLocked must be called with mu held.
func (s *Session) setStateLocked(to State, identity *Identity) (State, Change, []func(Change)) {
	from := s.state
	s.state = to
	if to != StateChecking {
		s.identity = identity
	}
	change := Change{From: from, To: to, Profile: s.profileLocked()}
	return from, change, append([]func(Change){}, s.listeners...)
}

func (s *Session) announce(from State, change Change, listeners []func(Change)) {
	if from == change.To {
		return
	}

	metrics.RecordSessionTransition(change.To.String())
	s.logger.Info("session state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", change.To))

	for _, fn := range listeners {
		fn(change)
	}
}

func (s *Session) profileLocked() *Profile {
	if s.identity == nil {
		return nil
	}
	return &Profile{
		SubjectID:   s.identity.SubjectID,
		DisplayName: s.identity.DisplayName,
		Email:       s.identity.Email,
	}
}
