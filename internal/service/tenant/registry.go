// Package tenant tracks the shops of the authenticated identity and which
// one is active. The active shop is mirrored to a durable pointer that is
// always written before listeners observe the change.
package tenant

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
)

// Registry owns the shop list and the active shop.
type Registry struct {
	lister  ShopLister
	pointer PointerStore
	logger  *zap.Logger

	// op serializes mutations so a pointer write and the in-memory update
	// are observed together.
	op sync.Mutex

	mu         sync.RWMutex
	shops      []Shop
	selected   *Shop
	loading    bool
	loaded     bool
	err        string
	generation uint64
	listeners  []func(Selection)
}

// NewRegistry creates an empty Registry.
func NewRegistry(lister ShopLister, pointer PointerStore, log *zap.Logger) *Registry {
	return &Registry{
		lister:  lister,
		pointer: pointer,
		logger:  logger.OrNop(log).Named("tenant"),
	}
}

// Subscribe registers a listener for active shop changes. Listeners run
// after the durable pointer is written, one change at a time in the order
// the changes were applied. They run while mutations are locked out, so
// they must not block or call SelectShop, FetchShops or Reset.
func (r *Registry) Subscribe(fn func(Selection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// FetchShops reloads the shop list and reconciles the active shop against
// the durable pointer: the saved shop if still listed, else the first shop,
// else none. Fetch errors are kept in the snapshot and do not change the
// selection.
func (r *Registry) FetchShops(ctx context.Context) Snapshot {
	r.mu.Lock()
	r.loading = true
	gen := r.generation
	r.mu.Unlock()

	shops, err := r.lister.ListShops(ctx)

	r.op.Lock()
	r.mu.Lock()
	if r.generation != gen {
		// Reset while the fetch was in flight.
		r.mu.Unlock()
		r.op.Unlock()
		r.logger.Debug("discarding stale shop list")
		return r.Snapshot()
	}
	r.loading = false
	r.loaded = true
	if err != nil {
		r.err = err.Error()
		r.mu.Unlock()
		r.op.Unlock()
		r.logger.Warn("failed to fetch shops", zap.Error(err))
		return r.Snapshot()
	}
	r.err = ""
	r.shops = shops
	r.mu.Unlock()

	next := r.reconcile(ctx, shops)
	change, changed := r.applyLocked(next)
	if changed {
		r.notify(change)
	}
	r.op.Unlock()

	r.logger.Info("shops loaded",
		zap.Int("count", len(shops)),
		zap.String("selected", change.ShopID()))
	return r.Snapshot()
}

// SelectShop makes shop active, or clears the selection when shop is nil.
// A non-nil shop must be in the current list.
func (r *Registry) SelectShop(ctx context.Context, shop *Shop) error {
	r.op.Lock()

	var next *Shop
	if shop != nil {
		found, ok := r.find(shop.ID)
		if !ok {
			r.op.Unlock()
			return fmt.Errorf("select shop %q: %w", shop.ID, ErrShopNotFound)
		}
		next = &found
		r.save(ctx, found.ID)
	} else {
		r.clear(ctx)
	}

	change, changed := r.applyLocked(next)
	if changed {
		r.notify(change)
	}
	r.op.Unlock()
	return nil
}

// SelectShopByID is SelectShop for callers holding only an id. An empty id
// clears the selection.
func (r *Registry) SelectShopByID(ctx context.Context, shopID string) error {
	if shopID == "" {
		return r.SelectShop(ctx, nil)
	}
	return r.SelectShop(ctx, &Shop{ID: shopID})
}

// Reset forgets the shop list and clears the durable pointer. In-flight
// fetches started before Reset are discarded.
func (r *Registry) Reset(ctx context.Context) {
	r.op.Lock()
	r.clear(ctx)

	r.mu.Lock()
	r.generation++
	r.shops = nil
	r.loading = false
	r.loaded = false
	r.err = ""
	r.mu.Unlock()

	change, changed := r.applyLocked(nil)
	if changed {
		r.notify(change)
	}
	r.op.Unlock()
}

// Selected returns the active shop, or nil.
func (r *Registry) Selected() *Shop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyShop(r.selected)
}

// Snapshot returns a copy of the registry state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Shops:    append([]Shop{}, r.shops...),
		Selected: copyShop(r.selected),
		Loading:  r.loading,
		Loaded:   r.loaded,
		Error:    r.err,
	}
}

func (r *Registry) reconcile(ctx context.Context, shops []Shop) *Shop {
	saved, err := r.pointer.ActiveShop(ctx)
	if err != nil {
		r.logger.Warn("failed to read active shop pointer", zap.Error(err))
		saved = ""
	}

	if saved != "" {
		for _, s := range shops {
			if s.ID == saved {
				found := s
				return &found
			}
		}
	}

	if len(shops) == 0 {
		r.clear(ctx)
		return nil
	}

	first := shops[0]
	if saved != "" {
		r.logger.Info("saved shop no longer listed, falling back to first",
			zap.String("saved", saved),
			zap.String("selected", first.ID))
	}
	r.save(ctx, first.ID)
	return &first
}

// applyLocked must be called with op held.
func (r *Registry) applyLocked(next *Shop) (Selection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.selected
	r.selected = copyShop(next)
	change := Selection{Previous: copyShop(prev), Current: copyShop(next)}
	return change, shopID(prev) != shopID(next)
}

func (r *Registry) find(id string) (Shop, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.shops {
		if s.ID == id {
			return s, true
		}
	}
	return Shop{}, false
}

func (r *Registry) save(ctx context.Context, id string) {
	if err := r.pointer.SaveActiveShop(ctx, id); err != nil {
		r.logger.Warn("failed to persist active shop", zap.String("shop_id", id), zap.Error(err))
	}
}

func (r *Registry) clear(ctx context.Context) {
	if err := r.pointer.ClearActiveShop(ctx); err != nil {
		r.logger.Warn("failed to clear active shop", zap.Error(err))
	}
}

// notify must be called with op held.
func (r *Registry) notify(change Selection) {
	r.mu.RLock()
	listeners := append([]func(Selection){}, r.listeners...)
	r.mu.RUnlock()

	r.logger.Info("active shop changed",
		zap.String("from", shopID(change.Previous)),
		zap.String("to", shopID(change.Current)))
	for _, fn := range listeners {
		fn(change)
	}
}

func shopID(s *Shop) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func copyShop(s *Shop) *Shop {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
