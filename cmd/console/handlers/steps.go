package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/service/settings"
)

// Steps are the shop-scoped collaborators behind the onboarding steps.
type Steps interface {
	CouplingBol(ctx context.Context) (settings.CouplingBol, error)
	SaveCouplingBol(ctx context.Context, in settings.CouplingBol) (settings.CouplingBol, error)
	Invoice(ctx context.Context) (settings.InvoiceSettings, error)
	SaveInvoice(ctx context.Context, in settings.InvoiceSettings) (settings.InvoiceSettings, error)
	ExportOffersCSV(ctx context.Context) ([]byte, error)
	Products(ctx context.Context) ([]settings.Product, error)
	UpdateProductVAT(ctx context.Context, productID string, rate decimal.Decimal) error
}

var _ Steps = (*settings.Service)(nil)

// VATRequest sets a product VAT rate, e.g. { "vat_rate": "21" }.
type VATRequest struct {
	VATRate decimal.Decimal `json:"vat_rate"`
}

// RegisterStepRoutes registers the pass-through step endpoints:
//
//	GET|POST /steps/coupling-bol
//	GET|POST /steps/invoice
//	GET      /steps/offers.csv
//	GET      /steps/products
//	PUT      /steps/products/{id}/vat
func RegisterStepRoutes(mux *http.ServeMux, steps Steps, log *zap.Logger) {
	h := &api{steps: steps, logger: logger.OrNop(log)}

	mux.HandleFunc("GET /steps/coupling-bol", h.withError(h.getCouplingBol))
	mux.HandleFunc("POST /steps/coupling-bol", h.withError(h.saveCouplingBol))
	mux.HandleFunc("GET /steps/invoice", h.withError(h.getInvoice))
	mux.HandleFunc("POST /steps/invoice", h.withError(h.saveInvoice))
	mux.HandleFunc("GET /steps/offers.csv", h.withError(h.offersCSV))
	mux.HandleFunc("GET /steps/products", h.withError(h.products))
	mux.HandleFunc("PUT /steps/products/{id}/vat", h.withError(h.productVAT))
}

func (h *api) getCouplingBol(w http.ResponseWriter, r *http.Request) error {
	out, err := h.steps.CouplingBol(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

func (h *api) saveCouplingBol(w http.ResponseWriter, r *http.Request) error {
	var in settings.CouplingBol
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return badRequest("invalid json")
	}
	out, err := h.steps.SaveCouplingBol(r.Context(), in)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

func (h *api) getInvoice(w http.ResponseWriter, r *http.Request) error {
	out, err := h.steps.Invoice(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

func (h *api) saveInvoice(w http.ResponseWriter, r *http.Request) error {
	var in settings.InvoiceSettings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return badRequest("invalid json")
	}
	out, err := h.steps.SaveInvoice(r.Context(), in)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

func (h *api) offersCSV(w http.ResponseWriter, r *http.Request) error {
	raw, err := h.steps.ExportOffersCSV(r.Context())
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="offers.csv"`)
	_, err = w.Write(raw)
	return err
}

func (h *api) products(w http.ResponseWriter, r *http.Request) error {
	out, err := h.steps.Products(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

func (h *api) productVAT(w http.ResponseWriter, r *http.Request) error {
	var req VATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("invalid json")
	}
	if err := h.steps.UpdateProductVAT(r.Context(), r.PathValue("id"), req.VATRate); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
