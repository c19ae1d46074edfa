package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/metrics"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultMinValidity     = 60 * time.Second
	DefaultRefreshTimeout  = 15 * time.Second
)

// TokenStore holds the current session tokens and keeps them fresh.
//
// Readers call CurrentToken, which never fails: a refresh failure is
// reported through OnRefreshFailed and the reader gets an empty token.
// Callers that need a guaranteed-fresh token use Refresh, which returns the
// error. Refreshes are deduplicated, so the proactive schedule, on-demand
// reads and explicit calls never overlap. A refresh runs detached from the
// caller that started it: a caller that gives up gets its own context error
// while the refresh carries on for everyone else.
type TokenStore struct {
	refresher   Refresher
	logger      *zap.Logger
	now         func() time.Time
	interval    time.Duration
	minValidity time.Duration
	timeout     time.Duration

	mu          sync.RWMutex
	tokens      *Tokens
	expiryTimer *time.Timer
	stop        chan struct{}
	refreshed   []func(Tokens)
	failed      []func(error)
	expired     []func()

	group singleflight.Group
}

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithRefreshInterval sets how often the proactive refresh checks validity.
func WithRefreshInterval(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) { s.interval = d }
}

// WithMinValidity sets the remaining validity below which the schedule refreshes.
func WithMinValidity(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) { s.minValidity = d }
}

// WithRefreshTimeout bounds a single provider refresh call.
func WithRefreshTimeout(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) { s.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenStoreOption {
	return func(s *TokenStore) { s.now = now }
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore(refresher Refresher, log *zap.Logger, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		refresher:   refresher,
		logger:      logger.OrNop(log).Named("token_store"),
		now:         time.Now,
		interval:    DefaultRefreshInterval,
		minValidity: DefaultMinValidity,
		timeout:     DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRefreshTimeout
	}
	return s
}

// OnTokenRefreshed registers a callback run after every successful refresh.
func (s *TokenStore) OnTokenRefreshed(fn func(Tokens)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, fn)
}

// OnRefreshFailed registers a callback run after every failed refresh.
func (s *TokenStore) OnRefreshFailed(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, fn)
}

// OnTokenExpired registers a callback run when the held token reaches its expiry.
func (s *TokenStore) OnTokenExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, fn)
}

// Set replaces the held tokens.
func (s *TokenStore) Set(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(t)
}

// Clear drops the held tokens and cancels the schedule and expiry timer.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = nil
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	s.stopLocked()
}

// Tokens returns a copy of the held tokens.
func (s *TokenStore) Tokens() (Tokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return Tokens{}, false
	}
	return *s.tokens, true
}

// CurrentToken returns an access token valid for at least minValidity,
// refreshing first if needed. Returns "" when there is no session or the
// refresh failed.
func (s *TokenStore) CurrentToken(ctx context.Context, minValidity time.Duration) string {
	t, ok := s.Tokens()
	if !ok {
		return ""
	}
	if s.validFor(t) >= minValidity {
		return t.AccessToken
	}

	fresh, err := s.refresh(ctx, "on_demand")
	if err != nil {
		return ""
	}
	return fresh.AccessToken
}

// Refresh forces a refresh and returns the new tokens.
func (s *TokenStore) Refresh(ctx context.Context) (Tokens, error) {
	return s.refresh(ctx, "explicit")
}

// Start begins the proactive refresh schedule. Calling Start on a running
// store is a no-op.
func (s *TokenStore) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	go s.loop(s.stop)
}

// Stop cancels the proactive refresh schedule.
func (s *TokenStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *TokenStore) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *TokenStore) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t, ok := s.Tokens()
			if !ok || s.validFor(t) >= s.minValidity {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			_, _ = s.refresh(ctx, "scheduled")
			cancel()
		}
	}
}

func (s *TokenStore) refresh(ctx context.Context, trigger string) (Tokens, error) {
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.doRefresh(rctx, trigger)
	})

	select {
	case <-ctx.Done():
		s.logger.Debug("caller stopped waiting for refresh",
			zap.String("trigger", trigger),
			zap.Error(ctx.Err()))
		return Tokens{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight refresh", zap.String("trigger", trigger))
		}
		if res.Err != nil {
			return Tokens{}, res.Err
		}
		return res.Val.(Tokens), nil
	}
}

func (s *TokenStore) doRefresh(ctx context.Context, trigger string) (Tokens, error) {
	current, ok := s.Tokens()
	if !ok {
		return Tokens{}, ErrNotAuthenticated
	}

	s.logger.Debug("refreshing token",
		zap.String("trigger", trigger),
		zap.Duration("valid_for", s.validFor(current)))

	fresh, err := s.refresher.Refresh(ctx, current.RefreshToken)
	if err == nil && (fresh == nil || fresh.AccessToken == "") {
		err = ErrRefreshRejected
	}
	metrics.RecordTokenRefresh(trigger, err)

	if err != nil {
		s.logger.Warn("token refresh failed", zap.String("trigger", trigger), zap.Error(err))
		s.notifyFailed(err)
		return Tokens{}, err
	}

	next := *fresh
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.ExpiresAt.IsZero() {
		if claims, cerr := ParseClaims(next.AccessToken); cerr == nil {
			next.ExpiresAt = claims.ExpiresAt
		}
	}

	s.mu.Lock()
	if s.tokens == nil || s.tokens.RefreshToken != current.RefreshToken {
		// Cleared or replaced while the call was in flight.
		s.mu.Unlock()
		return Tokens{}, ErrNotAuthenticated
	}
	s.setLocked(next)
	callbacks := append([]func(Tokens){}, s.refreshed...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(next)
	}
	return next, nil
}

func (s *TokenStore) setLocked(t Tokens) {
	s.tokens = &t
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	if t.ExpiresAt.IsZero() {
		return
	}

	handle := t.RefreshToken
	s.expiryTimer = time.AfterFunc(t.ExpiresAt.Sub(s.now()), func() {
		s.fireExpired(handle)
	})
}

func (s *TokenStore) fireExpired(handle string) {
	s.mu.RLock()
	stale := s.tokens == nil || s.tokens.RefreshToken != handle || s.validFor(*s.tokens) > 0
	callbacks := append([]func(){}, s.expired...)
	s.mu.RUnlock()
	if stale {
		return
	}

	s.logger.Info("access token expired")
	for _, fn := range callbacks {
		fn()
	}
}

// notifyFailed reports a refresh failure. A cancelled refresh says nothing
// about the session and is not reported.
func (s *TokenStore) notifyFailed(err error) {
	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, context.Canceled) {
		return
	}
	s.mu.RLock()
	callbacks := append([]func(error){}, s.failed...)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn(err)
	}
}

func (s *TokenStore) validFor(t Tokens) time.Duration {
	if t.ExpiresAt.IsZero() {
		// No known expiry: treat as valid until the provider says otherwise.
		return time.Duration(1<<63 - 1)
	}
	return t.ExpiresAt.Sub(s.now())
}
