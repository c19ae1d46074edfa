package onboarding

import (
	"context"
	"net/http"

	"github.com/r2r72/x-sm-backoffice/internal/service/gateway"
)

const statusPath = "/settings/settings/onboarding/status"

// Requester performs gateway calls.
type Requester interface {
	Request(ctx context.Context, method, path string, body, out any, opts ...gateway.Option) error
}

// API reads and writes onboarding status through the settings service.
type API struct {
	gw     Requester
	writes Requester
}

var _ StatusAPI = (*API)(nil)

// NewAPI creates an API.
func NewAPI(gw Requester) *API {
	return &API{gw: gw, writes: gw}
}

// WithWriter returns a copy of a that sends status updates through w, for
// writes that must not be retried behind the user's back.
func (a *API) WithWriter(w Requester) *API {
	clone := *a
	clone.writes = w
	return &clone
}

// GetStatus implements StatusAPI.
func (a *API) GetStatus(ctx context.Context, shopID string) (Status, error) {
	var s Status
	err := a.gw.Request(ctx, http.MethodGet, statusPath, nil, &s, gateway.WithShop(shopID))
	return s, err
}

// UpdateStatus implements StatusAPI. The response is the full status.
func (a *API) UpdateStatus(ctx context.Context, shopID string, flags map[Flag]bool) (Status, error) {
	var s Status
	err := a.writes.Request(ctx, http.MethodPost, statusPath, flags, &s, gateway.WithShop(shopID))
	return s, err
}
