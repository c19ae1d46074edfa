// Package kratos adapts an Ory Kratos frontend API to auth.IdentityProvider.
// Sessions are carried as native session tokens; the token itself is the
// bearer and the refresh handle.
package kratos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	kratos "github.com/ory/kratos-client-go"
	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
)

// Provider talks to the Kratos frontend API.
type Provider struct {
	client  *kratos.APIClient
	baseURL string
	logger  *zap.Logger

	mu    sync.Mutex
	token string // ambient session token for the silent check
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New creates a Provider. sessionToken is the ambient credential used by
// the silent check when no handle is given; it may be empty.
func New(baseURL, sessionToken string, timeout time.Duration, log *zap.Logger) *Provider {
	cfg := kratos.NewConfiguration()
	cfg.Servers = []kratos.ServerConfiguration{{URL: baseURL}}
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Provider{
		client:  kratos.NewAPIClient(cfg),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   sessionToken,
		logger:  logger.OrNop(log).Named("kratos"),
	}
}

// CheckSession implements auth.IdentityProvider.
func (p *Provider) CheckSession(ctx context.Context, handle string) (*auth.Tokens, error) {
	token := handle
	if token == "" {
		token = p.ambient()
	}
	if token == "" {
		return nil, auth.ErrNoSession
	}

	t, err := p.whoami(ctx, token)
	if err != nil {
		return nil, err
	}
	if handle != "" {
		// A callback handle replaces the ambient token.
		p.setAmbient(handle)
	}
	return t, nil
}

// Refresh implements auth.Refresher. Kratos session tokens are long-lived;
// refreshing re-reads the session to pick up its current expiry.
func (p *Provider) Refresh(ctx context.Context, handle string) (*auth.Tokens, error) {
	t, err := p.whoami(ctx, handle)
	if errors.Is(err, auth.ErrNoSession) {
		return nil, fmt.Errorf("%w: session no longer active", auth.ErrRefreshRejected)
	}
	return t, err
}

// LoginURL implements auth.IdentityProvider.
func (p *Provider) LoginURL(returnTo string) string {
	u := p.baseURL + "/self-service/login/browser"
	if returnTo != "" {
		u += "?return_to=" + url.QueryEscape(returnTo)
	}
	return u
}

// Logout implements auth.IdentityProvider.
func (p *Provider) Logout(ctx context.Context, tokens auth.Tokens) error {
	token := tokens.RefreshToken
	if token == "" {
		token = tokens.AccessToken
	}
	if token == "" {
		return nil
	}

	resp, err := p.client.FrontendAPI.PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(token)).
		Execute()
	if token == p.ambient() {
		p.setAmbient("")
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			// Already revoked.
			return nil
		}
		return fmt.Errorf("%w: logout: %w", auth.ErrProviderUnavailable, err)
	}
	return nil
}

func (p *Provider) ambient() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *Provider) setAmbient(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
}

func (p *Provider) whoami(ctx context.Context, token string) (*auth.Tokens, error) {
	session, resp, err := p.client.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, auth.ErrNoSession
			}
			return nil, fmt.Errorf("%w: kratos returned status %d", auth.ErrProviderUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err)
	}

	if session.Active != nil && !*session.Active {
		return nil, auth.ErrNoSession
	}
	if session.Identity == nil {
		return nil, fmt.Errorf("%w: session without identity", auth.ErrNoSession)
	}

	t := &auth.Tokens{
		AccessToken:  token,
		RefreshToken: token,
		UserID:       session.Identity.Id,
	}
	if session.ExpiresAt != nil {
		t.ExpiresAt = *session.ExpiresAt
	}
	if traits, ok := session.Identity.Traits.(map[string]interface{}); ok {
		t.Email = stringTrait(traits, "email")
		t.DisplayName = displayName(traits)
	}

	p.logger.Debug("session resolved",
		zap.String("subject", t.UserID),
		zap.Time("expires_at", t.ExpiresAt))
	return t, nil
}

func displayName(traits map[string]interface{}) string {
	switch name := traits["name"].(type) {
	case string:
		return name
	case map[string]interface{}:
		parts := []string{stringTrait(name, "first"), stringTrait(name, "last")}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return ""
}

func stringTrait(traits map[string]interface{}, key string) string {
	if v, ok := traits[key].(string); ok {
		return v
	}
	return ""
}
