// Package onboarding drives the per-shop setup walkthrough. Flags come from
// the settings service; the cursor is local and restarts at step 1 whenever
// the active shop changes.
package onboarding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/metrics"
)

// StatusAPI reads and updates onboarding status for a shop.
type StatusAPI interface {
	GetStatus(ctx context.Context, shopID string) (Status, error)
	UpdateStatus(ctx context.Context, shopID string, flags map[Flag]bool) (Status, error)
}

// Engine owns the onboarding status and cursor of the active shop.
//
// Every async result is applied only if the shop it was requested for is
// still active, otherwise it is dropped.
//
// MarkStepComplete calls must not overlap for the same shop; the engine does
// not serialize them.
type Engine struct {
	api    StatusAPI
	logger *zap.Logger

	mu      sync.RWMutex
	shopID  string
	epoch   uint64
	writes  uint64 // applied writes; reads started before one are dropped
	phase   Phase
	status  Status
	fetched bool
	cursor  int
	err     string
}

// NewEngine creates an idle Engine.
func NewEngine(api StatusAPI, log *zap.Logger) *Engine {
	return &Engine{
		api:    api,
		logger: logger.OrNop(log).Named("onboarding"),
		phase:  PhaseIdle,
		cursor: 1,
	}
}

// SetShop switches the engine to shopID ("" for none), resets the cursor to
// 1 and refetches status.
func (e *Engine) SetShop(ctx context.Context, shopID string) Snapshot {
	e.mu.Lock()
	prev := e.shopID
	e.shopID = shopID
	e.epoch++
	e.cursor = 1
	e.status = Status{}
	e.fetched = false
	e.err = ""
	e.phase = PhaseIdle
	e.mu.Unlock()

	e.logger.Info("active shop set",
		zap.String("from", prev),
		zap.String("to", shopID))
	return e.FetchStatus(ctx)
}

// FetchStatus reloads status for the active shop. With no active shop the
// status resets to all-false without a network call. Errors are kept in the
// snapshot and leave the status unchanged.
func (e *Engine) FetchStatus(ctx context.Context) Snapshot {
	e.mu.Lock()
	shopID, epoch, writes := e.shopID, e.epoch, e.writes
	if shopID == "" {
		e.status = Status{}
		e.fetched = false
		e.err = ""
		e.phase = PhaseIdle
		e.mu.Unlock()
		return e.Snapshot()
	}
	e.phase = PhaseLoading
	e.mu.Unlock()

	status, err := e.api.GetStatus(ctx, shopID)

	e.mu.Lock()
	if e.shopID != shopID || e.epoch != epoch || e.writes != writes {
		e.mu.Unlock()
		e.logger.Debug("discarding stale onboarding status", zap.String("shop_id", shopID))
		return e.Snapshot()
	}
	if err != nil {
		e.phase = PhaseError
		e.err = err.Error()
		e.mu.Unlock()
		e.logger.Warn("failed to fetch onboarding status",
			zap.String("shop_id", shopID),
			zap.Error(err))
		return e.Snapshot()
	}
	e.status = status
	e.fetched = true
	e.err = ""
	e.phase = PhaseReady
	e.mu.Unlock()

	return e.Snapshot()
}

// MarkStepComplete sets flag on the backend and adopts the returned status.
// It fails with ErrNoActiveShop before any I/O when no shop is active. On
// failure the status is left unchanged and the error is returned.
func (e *Engine) MarkStepComplete(ctx context.Context, flag Flag) (Snapshot, error) {
	if _, err := ParseFlag(string(flag)); err != nil {
		return e.Snapshot(), err
	}

	e.mu.RLock()
	shopID, epoch := e.shopID, e.epoch
	e.mu.RUnlock()
	if shopID == "" {
		return e.Snapshot(), fmt.Errorf("mark %s complete: %w", flag, ErrNoActiveShop)
	}

	status, err := e.api.UpdateStatus(ctx, shopID, map[Flag]bool{flag: true})
	metrics.RecordStepCompletion(string(flag), err)
	if err != nil {
		e.logger.Warn("failed to mark step complete",
			zap.String("shop_id", shopID),
			zap.String("flag", string(flag)),
			zap.Error(err))
		return e.Snapshot(), fmt.Errorf("mark %s complete: %w", flag, err)
	}

	e.mu.Lock()
	if e.shopID != shopID || e.epoch != epoch {
		e.mu.Unlock()
		e.logger.Info("active shop changed during step completion, dropping result",
			zap.String("shop_id", shopID),
			zap.String("flag", string(flag)))
		return e.Snapshot(), nil
	}
	e.status = status
	e.writes++
	e.fetched = true
	e.err = ""
	e.phase = PhaseReady
	e.mu.Unlock()

	e.logger.Info("onboarding step completed",
		zap.String("shop_id", shopID),
		zap.String("flag", string(flag)))
	return e.Snapshot(), nil
}

// GoToNextStep advances the cursor when the current step is complete. It
// reports whether the cursor moved.
func (e *Engine) GoToNextStep() (Snapshot, bool) {
	e.mu.Lock()
	cursor := e.cursor
	moved := cursor < TotalSteps && StepComplete(e.status, cursor)
	if moved {
		e.cursor++
	}
	e.mu.Unlock()

	if !moved {
		e.logger.Debug("next step blocked", zap.Int("cursor", cursor))
	}
	return e.Snapshot(), moved
}

// GoToPreviousStep moves the cursor back one step, stopping at 1.
func (e *Engine) GoToPreviousStep() (Snapshot, bool) {
	e.mu.Lock()
	moved := e.cursor > 1
	if moved {
		e.cursor--
	}
	e.mu.Unlock()
	return e.Snapshot(), moved
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		ShopID:     e.shopID,
		Phase:      e.phase,
		Status:     e.status,
		Fetched:    e.fetched,
		Cursor:     e.cursor,
		TotalSteps: TotalSteps,
		Error:      e.err,
		Steps:      Progress(e.status, e.cursor),
	}
}
