package onboarding

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI keeps per-shop status like the settings service does.
type fakeAPI struct {
	mu        sync.Mutex
	statuses  map[string]Status
	getErr    error
	updateErr error
	gets      int
	updates   int
	hook      func(shopID string)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{statuses: map[string]Status{}}
}

func (f *fakeAPI) GetStatus(_ context.Context, shopID string) (Status, error) {
	f.mu.Lock()
	f.gets++
	hook := f.hook
	s, err := f.statuses[shopID], f.getErr
	f.mu.Unlock()
	if hook != nil {
		hook(shopID)
	}
	return s, err
}

func (f *fakeAPI) UpdateStatus(_ context.Context, shopID string, flags map[Flag]bool) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return Status{}, f.updateErr
	}
	s := f.statuses[shopID]
	for flag, v := range flags {
		switch flag {
		case FlagAPIConfigured:
			s.APIConfigured = v
		case FlagCatalogSynced:
			s.CatalogSynced = v
		case FlagVATConfigured:
			s.VATConfigured = v
		case FlagInvoicingConfigured:
			s.InvoicingConfigured = v
		}
	}
	f.statuses[shopID] = s
	return s, nil
}

func TestStepComplete(t *testing.T) {
	partial := Status{APIConfigured: true, CatalogSynced: true}
	gap := Status{APIConfigured: true, VATConfigured: true}
	all := Status{APIConfigured: true, CatalogSynced: true, VATConfigured: true, InvoicingConfigured: true}

	tests := []struct {
		name   string
		status Status
		step   int
		want   bool
	}{
		{name: "nothing set", status: Status{}, step: 1, want: false},
		{name: "prefix step 2", status: partial, step: 2, want: true},
		{name: "prefix step 3", status: partial, step: 3, want: false},
		{name: "later flag without earlier", status: gap, step: 3, want: false},
		{name: "final step needs all", status: partial, step: 5, want: false},
		{name: "final step all set", status: all, step: 5, want: true},
		{name: "out of range low", status: all, step: 0, want: false},
		{name: "out of range high", status: all, step: 6, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StepComplete(tt.status, tt.step))
		})
	}
}

func TestProgress(t *testing.T) {
	p := Progress(Status{APIConfigured: true}, 2)
	require.Len(t, p, TotalSteps)

	assert.True(t, p[0].Complete)
	assert.True(t, p[0].Unlocked)
	assert.True(t, p[1].Unlocked)
	assert.True(t, p[1].Current)
	assert.False(t, p[1].Complete)
	assert.False(t, p[2].Unlocked)
	assert.Equal(t, "complete", p[4].Name)
}

func TestParseFlag(t *testing.T) {
	f, err := ParseFlag("vatConfigured")
	require.NoError(t, err)
	assert.Equal(t, FlagVATConfigured, f)

	_, err = ParseFlag("paymentsConfigured")
	assert.ErrorIs(t, err, ErrUnknownFlag)
}

func TestEngine_NoShop(t *testing.T) {
	api := newFakeAPI()
	e := NewEngine(api, nil)

	snap := e.SetShop(context.Background(), "")

	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, Status{}, snap.Status)
	assert.False(t, snap.Fetched)
	assert.Zero(t, api.gets)

	_, err := e.MarkStepComplete(context.Background(), FlagAPIConfigured)
	require.ErrorIs(t, err, ErrNoActiveShop)
	assert.Zero(t, api.updates)
}

func TestEngine_FetchStatus(t *testing.T) {
	api := newFakeAPI()
	api.statuses["A"] = Status{APIConfigured: true}
	e := NewEngine(api, nil)

	first := e.SetShop(context.Background(), "A")
	second := e.FetchStatus(context.Background())

	assert.Equal(t, PhaseReady, first.Phase)
	assert.True(t, first.Fetched)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 2, api.gets)
}

func TestEngine_FetchErrorKeepsStatus(t *testing.T) {
	api := newFakeAPI()
	api.statuses["A"] = Status{APIConfigured: true}
	e := NewEngine(api, nil)
	e.SetShop(context.Background(), "A")

	api.getErr = errors.New("settings unavailable")
	snap := e.FetchStatus(context.Background())

	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, "settings unavailable", snap.Error)
	assert.True(t, snap.Status.APIConfigured)
}

func TestEngine_MarkStepCompleteRoundTrip(t *testing.T) {
	api := newFakeAPI()
	e := NewEngine(api, nil)
	e.SetShop(context.Background(), "A")

	snap, err := e.MarkStepComplete(context.Background(), FlagAPIConfigured)
	require.NoError(t, err)
	assert.True(t, snap.Status.APIConfigured)

	snap = e.FetchStatus(context.Background())
	assert.True(t, snap.Status.APIConfigured)
}

func TestEngine_MarkStepCompleteFailure(t *testing.T) {
	api := newFakeAPI()
	api.statuses["A"] = Status{APIConfigured: true}
	e := NewEngine(api, nil)
	e.SetShop(context.Background(), "A")

	api.updateErr = errors.New("bad gateway")
	snap, err := e.MarkStepComplete(context.Background(), FlagCatalogSynced)

	require.Error(t, err)
	assert.False(t, snap.Status.CatalogSynced)
	assert.Equal(t, PhaseReady, snap.Phase)

	_, err = e.MarkStepComplete(context.Background(), Flag("nope"))
	assert.ErrorIs(t, err, ErrUnknownFlag)
}

func TestEngine_NextStepBlockedThenAdvances(t *testing.T) {
	api := newFakeAPI()
	api.statuses["A"] = Status{APIConfigured: true, CatalogSynced: true}
	e := NewEngine(api, nil)
	e.SetShop(context.Background(), "A")

	for i := 0; i < 2; i++ {
		_, moved := e.GoToNextStep()
		require.True(t, moved)
	}
	require.Equal(t, 3, e.Snapshot().Cursor)

	snap, moved := e.GoToNextStep()
	assert.False(t, moved)
	assert.Equal(t, 3, snap.Cursor)

	_, err := e.MarkStepComplete(context.Background(), FlagVATConfigured)
	require.NoError(t, err)

	snap, moved = e.GoToNextStep()
	assert.True(t, moved)
	assert.Equal(t, 4, snap.Cursor)
}

func TestEngine_CursorBounds(t *testing.T) {
	api := newFakeAPI()
	api.statuses["A"] = Status{APIConfigured: true, CatalogSynced: true, VATConfigured: true, InvoicingConfigured: true}
	e := NewEngine(api, nil)
	e.SetShop(context.Background(), "A")

	for i := 0; i < 10; i++ {
		e.GoToNextStep()
	}
	assert.Equal(t, TotalSteps, e.Snapshot().Cursor)

	for i := 0; i < 10; i++ {
		e.GoToPreviousStep()
	}
	assert.Equal(t, 1, e.Snapshot().Cursor)
}

func TestEngine_RandomNavigationStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		api := newFakeAPI()
		var s Status
		s.APIConfigured = rng.Intn(2) == 0
		s.CatalogSynced = rng.Intn(2) == 0
		s.VATConfigured = rng.Intn(2) == 0
		s.InvoicingConfigured = rng.Intn(2) == 0
		api.statuses["A"] = s

		e := NewEngine(api, nil)
		e.SetShop(context.Background(), "A")

		for i := 0; i < 30; i++ {
			before := e.Snapshot().Cursor
			if rng.Intn(2) == 0 {
				snap, moved := e.GoToNextStep()
				wantMove := before < TotalSteps && StepComplete(s, before)
				assert.Equal(t, wantMove, moved)
				if moved {
					assert.Equal(t, before+1, snap.Cursor)
				} else {
					assert.Equal(t, before, snap.Cursor)
				}
			} else {
				e.GoToPreviousStep()
			}
			c := e.Snapshot().Cursor
			assert.GreaterOrEqual(t, c, 1)
			assert.LessOrEqual(t, c, TotalSteps)
		}
	}
}

func TestEngine_SwitchingShopResetsCursor(t *testing.T) {
	api := newFakeAPI()
	full := Status{APIConfigured: true, CatalogSynced: true, VATConfigured: true, InvoicingConfigured: true}
	api.statuses["A"] = full
	api.statuses["B"] = full
	e := NewEngine(api, nil)

	e.SetShop(context.Background(), "A")
	e.GoToNextStep()
	e.GoToNextStep()
	require.Equal(t, 3, e.Snapshot().Cursor)

	snap := e.SetShop(context.Background(), "B")
	assert.Equal(t, 1, snap.Cursor)
	assert.True(t, snap.Status.Complete())

	e.GoToNextStep()
	snap = e.SetShop(context.Background(), "")
	assert.Equal(t, 1, snap.Cursor)
	assert.Equal(t, PhaseIdle, snap.Phase)
}

func TestEngine_StaleFetchDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.statuses["A"] = Status{APIConfigured: true}
	api.statuses["B"] = Status{}
	e := NewEngine(api, nil)

	switched := false
	api.hook = func(shopID string) {
		if shopID == "A" && !switched {
			switched = true
			e.SetShop(context.Background(), "B")
		}
	}

	e.SetShop(context.Background(), "A")
	snap := e.Snapshot()

	assert.Equal(t, "B", snap.ShopID)
	assert.False(t, snap.Status.APIConfigured)
	assert.Equal(t, PhaseReady, snap.Phase)
}

func TestEngine_ReadStartedBeforeWriteIsDropped(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	e := NewEngine(api, nil)
	e.SetShop(ctx, "A")

	var once sync.Once
	api.mu.Lock()
	api.hook = func(string) {
		// The read has its answer; a completion lands before it is applied.
		once.Do(func() {
			_, err := e.MarkStepComplete(ctx, FlagAPIConfigured)
			assert.NoError(t, err)
		})
	}
	api.mu.Unlock()

	snap := e.FetchStatus(ctx)

	assert.True(t, snap.Status.APIConfigured)
	assert.Equal(t, PhaseReady, snap.Phase)

	api.mu.Lock()
	api.hook = nil
	api.mu.Unlock()
	assert.True(t, e.FetchStatus(ctx).Status.APIConfigured, "a later read sees the write")
}
