package tenant

import (
	"context"
	"net/http"

	"github.com/r2r72/x-sm-backoffice/internal/service/gateway"
)

const shopsPath = "/settings/settings/shops"

// Requester performs gateway calls.
type Requester interface {
	Request(ctx context.Context, method, path string, body, out any, opts ...gateway.Option) error
}

// API lists shops through the settings service.
type API struct {
	gw Requester
}

var _ ShopLister = (*API)(nil)

// NewAPI creates an API.
func NewAPI(gw Requester) *API {
	return &API{gw: gw}
}

// ListShops implements ShopLister. The call predates shop selection, so it
// carries no shop header.
func (a *API) ListShops(ctx context.Context) ([]Shop, error) {
	var shops []Shop
	if err := a.gw.Request(ctx, http.MethodGet, shopsPath, nil, &shops, gateway.WithoutShop()); err != nil {
		return nil, err
	}
	if shops == nil {
		shops = []Shop{}
	}
	return shops, nil
}
