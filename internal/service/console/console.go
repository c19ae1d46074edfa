// Package console coordinates the session, shop registry and onboarding
// engine of a single back-office client.
//
// State listeners only post events; one goroutine applies the reactions in
// order: an authenticated session fetches shops, a shop change resets and
// refetches onboarding. Logout clears the registry before the session
// reports unauthenticated.
package console

import (
	"context"

	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/guard"
	"github.com/r2r72/x-sm-backoffice/internal/service/onboarding"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

// Console is the coordinator.
type Console struct {
	session   *auth.Session
	registry  *tenant.Registry
	engine    *onboarding.Engine
	policy    guard.Policy
	redirects *Redirects
	logger    *zap.Logger
	queue     *queue
}

// Deps are the components the Console coordinates.
type Deps struct {
	Session   *auth.Session
	Registry  *tenant.Registry
	Engine    *onboarding.Engine
	Policy    guard.Policy
	Redirects *Redirects // must be the Navigator given to Session
	Logger    *zap.Logger
}

// New wires the components together. Nothing happens until Run is called.
func New(d Deps) *Console {
	if d.Redirects == nil {
		d.Redirects = &Redirects{}
	}
	c := &Console{
		session:   d.Session,
		registry:  d.Registry,
		engine:    d.Engine,
		policy:    d.Policy,
		redirects: d.Redirects,
		logger:    logger.OrNop(d.Logger).Named("console"),
		queue:     newQueue(),
	}

	c.session.Subscribe(func(ch auth.Change) {
		if ch.To == auth.StateAuthenticated {
			c.queue.push(event{kind: eventAuthenticated})
		}
	})
	c.session.OnLogout(func(ctx context.Context) {
		c.registry.Reset(ctx)
	})
	c.registry.Subscribe(func(sel tenant.Selection) {
		c.queue.push(event{kind: eventShopChanged, shopID: sel.ShopID()})
	})

	// The silent session check is the first thing Run does.
	c.queue.push(event{kind: eventInit})
	return c
}

// Run processes events until ctx is done.
func (c *Console) Run(ctx context.Context) {
	for {
		e, ok := c.queue.next(ctx)
		if !ok {
			return
		}
		c.handle(ctx, e)
		c.queue.done()
	}
}

// WaitIdle blocks until every queued reaction has been applied.
func (c *Console) WaitIdle(ctx context.Context) error {
	select {
	case <-c.queue.idleCh():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) handle(ctx context.Context, e event) {
	c.logger.Debug("handling event",
		zap.Stringer("kind", e.kind),
		zap.String("shop_id", e.shopID))

	switch e.kind {
	case eventInit:
		c.session.Init(ctx)
	case eventAuthenticated:
		if !c.session.Authenticated() {
			return
		}
		c.registry.FetchShops(ctx)
	case eventShopChanged:
		c.followShop(ctx, e.shopID)
	}
}

// followShop points the engine at the shop selected now. An event whose
// shop is no longer selected is skipped once the engine already follows
// the current selection.
func (c *Console) followShop(ctx context.Context, eventShopID string) {
	current := ""
	if s := c.registry.Selected(); s != nil {
		current = s.ID
	}
	if eventShopID != current && c.engine.Snapshot().ShopID == current {
		c.logger.Debug("skipping superseded shop change",
			zap.String("event_shop_id", eventShopID),
			zap.String("shop_id", current))
		return
	}
	c.engine.SetShop(ctx, current)
}

// === Session ===

// SessionView is what the frontend needs to know about the session.
type SessionView struct {
	State    string        `json:"state"`
	Loading  bool          `json:"loading"`
	Profile  *auth.Profile `json:"profile,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
}

func (c *Console) Session() SessionView {
	return SessionView{
		State:    c.session.State().String(),
		Loading:  c.session.IsLoading(),
		Profile:  c.session.Profile(),
		Redirect: c.redirects.Peek(),
	}
}

// Login returns the identity provider URL to send the user to.
func (c *Console) Login(returnTo string) string {
	c.session.Login(returnTo)
	url, _ := c.redirects.Take()
	return url
}

// Callback completes a login with the handle from the provider redirect.
func (c *Console) Callback(ctx context.Context, handle string) (SessionView, error) {
	c.session.Callback(ctx, handle)
	if err := c.WaitIdle(ctx); err != nil {
		return SessionView{}, err
	}
	return c.Session(), nil
}

// Logout ends the session and returns where to send the user.
func (c *Console) Logout(ctx context.Context) string {
	c.session.Logout(ctx)
	url, _ := c.redirects.Take()
	return url
}

// === Shops ===

func (c *Console) Shops() tenant.Snapshot {
	return c.registry.Snapshot()
}

// RefreshShops refetches the shop list and waits for dependent reactions.
func (c *Console) RefreshShops(ctx context.Context) (tenant.Snapshot, error) {
	if !c.session.Authenticated() {
		return c.registry.Snapshot(), auth.ErrNotAuthenticated
	}
	c.registry.FetchShops(ctx)
	if err := c.WaitIdle(ctx); err != nil {
		return tenant.Snapshot{}, err
	}
	return c.registry.Snapshot(), nil
}

// SelectShop activates shopID ("" clears) and waits for onboarding to follow.
func (c *Console) SelectShop(ctx context.Context, shopID string) (tenant.Snapshot, error) {
	if !c.session.Authenticated() {
		return c.registry.Snapshot(), auth.ErrNotAuthenticated
	}
	if err := c.registry.SelectShopByID(ctx, shopID); err != nil {
		return c.registry.Snapshot(), err
	}
	if err := c.WaitIdle(ctx); err != nil {
		return tenant.Snapshot{}, err
	}
	return c.registry.Snapshot(), nil
}

// === Onboarding ===

func (c *Console) Onboarding() onboarding.Snapshot {
	return c.engine.Snapshot()
}

func (c *Console) RefreshOnboarding(ctx context.Context) onboarding.Snapshot {
	return c.engine.FetchStatus(ctx)
}

func (c *Console) NextStep() (onboarding.Snapshot, bool) {
	return c.engine.GoToNextStep()
}

func (c *Console) PreviousStep() (onboarding.Snapshot, bool) {
	return c.engine.GoToPreviousStep()
}

// CompleteStep marks the named flag complete for the active shop.
func (c *Console) CompleteStep(ctx context.Context, flag string) (onboarding.Snapshot, error) {
	f, err := onboarding.ParseFlag(flag)
	if err != nil {
		return c.engine.Snapshot(), err
	}
	return c.engine.MarkStepComplete(ctx, f)
}

// === Access ===

// View returns the combined state the guard decides on.
func (c *Console) View() guard.View {
	return guard.View{
		Session:    c.session.State(),
		Tenant:     c.registry.Snapshot(),
		Onboarding: c.engine.Snapshot(),
	}
}

// Access decides what to show for route.
func (c *Console) Access(route string) guard.Decision {
	return c.policy.Decide(route, c.View())
}
