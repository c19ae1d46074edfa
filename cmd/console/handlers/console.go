// Package handlers exposes the console to the dashboard frontend as a local
// JSON API.
//
// Endpoints:
//
//	GET  /health                     liveness
//	GET  /session                    session state, profile, pending redirect
//	GET  /login?return_to=           redirect to the identity provider
//	GET  /callback?handle=           finish a login
//	POST /logout                     end the session
//	GET  /shops                      shop list and active shop
//	POST /shops/refresh              refetch shops
//	POST /shops/select               { "shop_id": "..." }, "" clears
//	GET  /onboarding                 status, cursor, per-step progress
//	POST /onboarding/refresh         refetch status
//	POST /onboarding/next            advance the cursor if allowed
//	POST /onboarding/previous        move the cursor back
//	POST /onboarding/complete        { "flag": "vatConfigured" }
//	GET  /access?route=              guard decision for a route
//
// Errors are returned as { "error": "..." }.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/console"
	"github.com/r2r72/x-sm-backoffice/internal/service/gateway"
	"github.com/r2r72/x-sm-backoffice/internal/service/guard"
	"github.com/r2r72/x-sm-backoffice/internal/service/onboarding"
	"github.com/r2r72/x-sm-backoffice/internal/service/settings"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

// Console is the coordinator the handlers drive.
type Console interface {
	Session() console.SessionView
	Login(returnTo string) string
	Callback(ctx context.Context, handle string) (console.SessionView, error)
	Logout(ctx context.Context) string

	Shops() tenant.Snapshot
	RefreshShops(ctx context.Context) (tenant.Snapshot, error)
	SelectShop(ctx context.Context, shopID string) (tenant.Snapshot, error)

	Onboarding() onboarding.Snapshot
	RefreshOnboarding(ctx context.Context) onboarding.Snapshot
	NextStep() (onboarding.Snapshot, bool)
	PreviousStep() (onboarding.Snapshot, bool)
	CompleteStep(ctx context.Context, flag string) (onboarding.Snapshot, error)

	Access(route string) guard.Decision
}

var _ Console = (*console.Console)(nil)

// RegisterConsoleRoutes registers the session, shop, onboarding and access
// routes.
func RegisterConsoleRoutes(mux *http.ServeMux, c Console, log *zap.Logger) {
	h := &api{console: c, logger: logger.OrNop(log)}

	mux.HandleFunc("GET /health", h.withError(h.health))
	mux.HandleFunc("GET /session", h.withError(h.session))
	mux.HandleFunc("GET /login", h.withError(h.login))
	mux.HandleFunc("GET /callback", h.withError(h.callback))
	mux.HandleFunc("POST /logout", h.withError(h.logout))

	mux.HandleFunc("GET /shops", h.withError(h.shops))
	mux.HandleFunc("POST /shops/refresh", h.withError(h.refreshShops))
	mux.HandleFunc("POST /shops/select", h.withError(h.selectShop))

	mux.HandleFunc("GET /onboarding", h.withError(h.onboarding))
	mux.HandleFunc("POST /onboarding/refresh", h.withError(h.refreshOnboarding))
	mux.HandleFunc("POST /onboarding/next", h.withError(h.nextStep))
	mux.HandleFunc("POST /onboarding/previous", h.withError(h.previousStep))
	mux.HandleFunc("POST /onboarding/complete", h.withError(h.completeStep))

	mux.HandleFunc("GET /access", h.withError(h.access))
}

type api struct {
	console Console
	steps   Steps
	logger  *zap.Logger
}

// withError maps handler errors to JSON responses.
func (h *api) withError(fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			status, msg := classify(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error("request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
			writeError(w, status, msg)
		}
	}
}

// === Request and response types ===

// SelectShopRequest selects a shop; an empty id clears the selection.
type SelectShopRequest struct {
	ShopID string `json:"shop_id"`
}

// CompleteStepRequest names the flag to set.
type CompleteStepRequest struct {
	Flag string `json:"flag"`
}

// StepResponse is returned by cursor moves.
type StepResponse struct {
	Onboarding onboarding.Snapshot `json:"onboarding"`
	Moved      bool                `json:"moved"`
}

// RedirectResponse tells the frontend where to go.
type RedirectResponse struct {
	Redirect string `json:"redirect"`
}

// === Handlers ===

func (h *api) health(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *api) session(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, h.console.Session())
}

func (h *api) login(w http.ResponseWriter, r *http.Request) error {
	http.Redirect(w, r, h.console.Login(r.URL.Query().Get("return_to")), http.StatusFound)
	return nil
}

func (h *api) callback(w http.ResponseWriter, r *http.Request) error {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		return badRequest("handle is required")
	}

	view, err := h.console.Callback(r.Context(), handle)
	if err != nil {
		return err
	}
	returnTo := r.URL.Query().Get("return_to")
	if returnTo != "" && view.State == auth.StateAuthenticated.String() {
		if localPath(returnTo) {
			http.Redirect(w, r, returnTo, http.StatusFound)
			return nil
		}
		h.logger.Warn("ignoring non-local return_to", zap.String("return_to", returnTo))
	}
	return writeJSON(w, http.StatusOK, view)
}

// localPath reports whether target is a path on this origin.
func localPath(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func (h *api) logout(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, RedirectResponse{Redirect: h.console.Logout(r.Context())})
}

func (h *api) shops(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, h.console.Shops())
}

func (h *api) refreshShops(w http.ResponseWriter, r *http.Request) error {
	snap, err := h.console.RefreshShops(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, snap)
}

func (h *api) selectShop(w http.ResponseWriter, r *http.Request) error {
	var req SelectShopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("invalid json")
	}

	snap, err := h.console.SelectShop(r.Context(), req.ShopID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, snap)
}

func (h *api) onboarding(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, h.console.Onboarding())
}

func (h *api) refreshOnboarding(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, h.console.RefreshOnboarding(r.Context()))
}

func (h *api) nextStep(w http.ResponseWriter, r *http.Request) error {
	snap, moved := h.console.NextStep()
	return writeJSON(w, http.StatusOK, StepResponse{Onboarding: snap, Moved: moved})
}

func (h *api) previousStep(w http.ResponseWriter, r *http.Request) error {
	snap, moved := h.console.PreviousStep()
	return writeJSON(w, http.StatusOK, StepResponse{Onboarding: snap, Moved: moved})
}

func (h *api) completeStep(w http.ResponseWriter, r *http.Request) error {
	var req CompleteStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("invalid json")
	}
	if req.Flag == "" {
		return badRequest("flag is required")
	}

	snap, err := h.console.CompleteStep(r.Context(), req.Flag)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, snap)
}

func (h *api) access(w http.ResponseWriter, r *http.Request) error {
	route := r.URL.Query().Get("route")
	if route == "" {
		return badRequest("route is required")
	}
	return writeJSON(w, http.StatusOK, h.console.Access(route))
}

// === Helpers ===

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

func classify(err error) (int, string) {
	var re *requestError
	if errors.As(err, &re) {
		return re.status, re.msg
	}

	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, tenant.ErrShopNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, onboarding.ErrNoActiveShop):
		return http.StatusConflict, err.Error()
	case errors.Is(err, onboarding.ErrUnknownFlag),
		errors.Is(err, settings.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timed out"
	}

	var se *gateway.ServiceError
	if errors.As(err, &se) {
		switch {
		case se.Transient():
			return http.StatusBadGateway, se.Error()
		default:
			return se.StatusCode, se.Message
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, map[string]string{"error": msg})
}
