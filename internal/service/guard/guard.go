// Package guard decides what to show for a route from the session, shop
// and onboarding state. It performs no I/O.
package guard

import (
	"strings"

	"github.com/r2r72/x-sm-backoffice/internal/metrics"
	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/onboarding"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

// Kind is the outcome of a decision.
type Kind string

const (
	KindRender   Kind = "render"
	KindRedirect Kind = "redirect"
	KindLoading  Kind = "loading"
	KindBlocked  Kind = "blocked"
)

// Decision tells the frontend what to do with a route.
type Decision struct {
	Kind     Kind   `json:"kind"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
	Link     string `json:"link,omitempty"`
	Error    string `json:"error,omitempty"` // failed fetch behind a block
}

// View is the upstream state the guard decides on.
type View struct {
	Session    auth.State
	Tenant     tenant.Snapshot
	Onboarding onboarding.Snapshot
}

// Policy names the special routes.
type Policy struct {
	Home       string
	Onboarding string
	Gated      []string // routes that require completed onboarding
}

// DefaultPolicy returns the standard route layout.
func DefaultPolicy() Policy {
	return Policy{Home: "/", Onboarding: "/onboarding", Gated: []string{"/settings"}}
}

const (
	// BlockedMessage is shown on gated routes until onboarding is complete.
	BlockedMessage = "Finish onboarding for this shop to unlock settings."
	// FetchFailedMessage is shown on gated routes when the shop list or
	// onboarding status could not be loaded.
	FetchFailedMessage = "Onboarding status could not be loaded. Try again."
)

// Decide applies the rules in priority order: public home, session loading,
// unauthenticated, onboarding route, gated routes, everything else.
func (p Policy) Decide(route string, v View) Decision {
	d := p.decide(normalize(route), v)
	metrics.RecordAccessDecision(string(d.Kind))
	return d
}

func (p Policy) decide(route string, v View) Decision {
	if route == normalize(p.Home) {
		return Decision{Kind: KindRender}
	}
	if !v.Session.Resolved() {
		return Decision{Kind: KindLoading}
	}
	if v.Session != auth.StateAuthenticated {
		return Decision{Kind: KindRedirect, Redirect: p.Home}
	}
	if matches(route, p.Onboarding) {
		return Decision{Kind: KindRender}
	}
	if !p.gated(route) {
		return Decision{Kind: KindRender}
	}

	if onboardingLoading(v) {
		return Decision{Kind: KindLoading}
	}
	if v.Onboarding.Status.Complete() && v.Onboarding.Fetched {
		return Decision{Kind: KindRender}
	}
	if msg := fetchError(v); msg != "" {
		return Decision{Kind: KindBlocked, Message: FetchFailedMessage, Link: p.Onboarding, Error: msg}
	}
	return Decision{Kind: KindBlocked, Message: BlockedMessage, Link: p.Onboarding}
}

// fetchError returns the error of a failed upstream fetch, shops first.
func fetchError(v View) string {
	if v.Tenant.Error != "" {
		return v.Tenant.Error
	}
	if v.Onboarding.Phase == onboarding.PhaseError {
		return v.Onboarding.Error
	}
	return ""
}

// onboardingLoading reports whether the status for the selected shop is
// still on its way.
func onboardingLoading(v View) bool {
	if v.Tenant.Loading || !v.Tenant.Loaded {
		return true
	}
	if v.Tenant.Selected == nil {
		return false
	}
	if v.Onboarding.ShopID != v.Tenant.Selected.ID {
		return true
	}
	return v.Onboarding.Phase == onboarding.PhaseLoading
}

func (p Policy) gated(route string) bool {
	for _, g := range p.Gated {
		if matches(route, g) {
			return true
		}
	}
	return false
}

// matches reports whether route is base or below it.
func matches(route, base string) bool {
	base = normalize(base)
	if base == "/" {
		return route == "/"
	}
	return route == base || strings.HasPrefix(route, base+"/")
}

func normalize(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}
