// Package settings calls the shop-scoped settings and catalog endpoints used
// by the onboarding steps. Payloads are validated before they leave the
// console; the services remain the authority.
package settings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/r2r72/x-sm-backoffice/internal/service/gateway"
)

const (
	couplingBolPath = "/settings/settings/coupling-bol"
	invoicePath     = "/settings/settings/invoice"
	offersCSVPath   = "/shop/api/shop/offers/export/csv"
	productsPath    = "/shop/api/shop/products"
)

// Requester performs gateway calls.
type Requester interface {
	Request(ctx context.Context, method, path string, body, out any, opts ...gateway.Option) error
}

// Service is the client for the step-specific endpoints. The active shop is
// taken from the gateway's durable pointer.
type Service struct {
	gw       Requester
	validate *validator.Validate
}

// New creates a Service.
func New(gw Requester) *Service {
	return &Service{gw: gw, validate: validator.New()}
}

func (s *Service) CouplingBol(ctx context.Context) (CouplingBol, error) {
	var out CouplingBol
	err := s.gw.Request(ctx, http.MethodGet, couplingBolPath, nil, &out)
	return out, err
}

func (s *Service) SaveCouplingBol(ctx context.Context, in CouplingBol) (CouplingBol, error) {
	if err := s.check(in); err != nil {
		return CouplingBol{}, err
	}
	var out CouplingBol
	err := s.gw.Request(ctx, http.MethodPost, couplingBolPath, in, &out)
	return out, err
}

func (s *Service) Invoice(ctx context.Context) (InvoiceSettings, error) {
	var out InvoiceSettings
	err := s.gw.Request(ctx, http.MethodGet, invoicePath, nil, &out)
	return out, err
}

func (s *Service) SaveInvoice(ctx context.Context, in InvoiceSettings) (InvoiceSettings, error) {
	if err := s.check(in); err != nil {
		return InvoiceSettings{}, err
	}
	var out InvoiceSettings
	err := s.gw.Request(ctx, http.MethodPost, invoicePath, in, &out)
	return out, err
}

// ExportOffersCSV returns the raw offers export.
func (s *Service) ExportOffersCSV(ctx context.Context) ([]byte, error) {
	var raw []byte
	if err := s.gw.Request(ctx, http.MethodGet, offersCSVPath, nil, &raw, gateway.WithHeader("Accept", "text/csv")); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Service) Products(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := s.gw.Request(ctx, http.MethodGet, productsPath, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Product{}
	}
	return out, nil
}

// UpdateProductVAT sets the VAT rate of one product.
func (s *Service) UpdateProductVAT(ctx context.Context, productID string, rate decimal.Decimal) error {
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidPayload)
	}
	if err := ValidateVATRate(rate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	path := productsPath + "/" + url.PathEscape(productID) + "/vat"
	return s.gw.Request(ctx, http.MethodPut, path, vatUpdate{VATRate: rate}, nil)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}
