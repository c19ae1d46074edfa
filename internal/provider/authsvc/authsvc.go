// Package authsvc adapts the x-sm auth service (POST /refresh, POST /logout)
// to auth.IdentityProvider. The refresh token is the session handle: the
// silent check exchanges it for a fresh token pair.
package authsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
)

// TokenResponse is the auth service token pair.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// RefreshRequest is the body of POST /refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Provider talks to the auth service.
type Provider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	handle string // ambient refresh token for the silent check
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New creates a Provider. refreshToken seeds the silent check and may be
// empty.
func New(baseURL, refreshToken string, timeout time.Duration, log *zap.Logger) *Provider {
	return &Provider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.OrNop(log).Named("authsvc"),
		handle:  refreshToken,
	}
}

// CheckSession implements auth.IdentityProvider.
func (p *Provider) CheckSession(ctx context.Context, handle string) (*auth.Tokens, error) {
	if handle == "" {
		handle = p.ambient()
	}
	if handle == "" {
		return nil, auth.ErrNoSession
	}

	t, err := p.refresh(ctx, handle)
	if err != nil {
		if err == auth.ErrInvalidToken {
			return nil, auth.ErrNoSession
		}
		return nil, err
	}
	return t, nil
}

// Refresh implements auth.Refresher.
func (p *Provider) Refresh(ctx context.Context, refreshHandle string) (*auth.Tokens, error) {
	t, err := p.refresh(ctx, refreshHandle)
	if err == auth.ErrInvalidToken {
		return nil, fmt.Errorf("%w: %w", auth.ErrRefreshRejected, err)
	}
	return t, err
}

// LoginURL implements auth.IdentityProvider.
func (p *Provider) LoginURL(returnTo string) string {
	u := p.baseURL + "/login"
	if returnTo != "" {
		u += "?return_to=" + url.QueryEscape(returnTo)
	}
	return u
}

// Logout implements auth.IdentityProvider. The auth service revokes every
// session of the user named by the access token.
func (p *Provider) Logout(ctx context.Context, tokens auth.Tokens) error {
	p.setAmbient("")
	if tokens.AccessToken == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		// Token already unusable; nothing left to revoke.
		return nil
	default:
		return fmt.Errorf("%w: logout returned status %d", auth.ErrProviderUnavailable, resp.StatusCode)
	}
}

func (p *Provider) refresh(ctx context.Context, handle string) (*auth.Tokens, error) {
	body, err := json.Marshal(RefreshRequest{RefreshToken: handle})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/refresh", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, auth.ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: refresh returned status %d", auth.ErrProviderUnavailable, resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %w", auth.ErrProviderUnavailable, err)
	}
	if tr.AccessToken == "" {
		return nil, auth.ErrRefreshRejected
	}

	if tr.RefreshToken != "" {
		p.setAmbient(tr.RefreshToken)
	}
	p.logger.Debug("token pair issued",
		zap.String("user_id", tr.UserID),
		zap.Time("expires_at", tr.ExpiresAt))

	return &auth.Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.ExpiresAt,
		UserID:       tr.UserID,
	}, nil
}

func (p *Provider) ambient() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Provider) setAmbient(handle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = handle
}
