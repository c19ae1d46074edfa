package onboarding

import "fmt"

// Flag names one onboarding milestone. The backend is authoritative for
// every flag.
type Flag string

const (
	FlagAPIConfigured       Flag = "apiConfigured"
	FlagCatalogSynced       Flag = "catalogSynced"
	FlagVATConfigured       Flag = "vatConfigured"
	FlagInvoicingConfigured Flag = "invoicingConfigured"
)

// Flags lists every flag in step order.
var Flags = []Flag{
	FlagAPIConfigured,
	FlagCatalogSynced,
	FlagVATConfigured,
	FlagInvoicingConfigured,
}

// ParseFlag validates a flag name.
func ParseFlag(name string) (Flag, error) {
	for _, f := range Flags {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%q: %w", name, ErrUnknownFlag)
}

// Status is the onboarding state of one shop.
type Status struct {
	APIConfigured       bool `json:"apiConfigured"`
	CatalogSynced       bool `json:"catalogSynced"`
	VATConfigured       bool `json:"vatConfigured"`
	InvoicingConfigured bool `json:"invoicingConfigured"`
}

// Get returns the value of f. Unknown flags are false.
func (s Status) Get(f Flag) bool {
	switch f {
	case FlagAPIConfigured:
		return s.APIConfigured
	case FlagCatalogSynced:
		return s.CatalogSynced
	case FlagVATConfigured:
		return s.VATConfigured
	case FlagInvoicingConfigured:
		return s.InvoicingConfigured
	}
	return false
}

// Complete reports whether every flag is set.
func (s Status) Complete() bool {
	for _, f := range Flags {
		if !s.Get(f) {
			return false
		}
	}
	return true
}

// Step is one stage of the walkthrough. The final step has no flag.
type Step struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Flag  Flag   `json:"flag,omitempty"`
}

// Steps is the walkthrough, 1-based.
var Steps = []Step{
	{Index: 1, Name: "connect-api", Flag: FlagAPIConfigured},
	{Index: 2, Name: "sync-shop", Flag: FlagCatalogSynced},
	{Index: 3, Name: "configure-vat", Flag: FlagVATConfigured},
	{Index: 4, Name: "configure-invoicing", Flag: FlagInvoicingConfigured},
	{Index: 5, Name: "complete"},
}

// TotalSteps is the number of walkthrough steps.
var TotalSteps = len(Steps)

// StepComplete is the cumulative predicate: step n is complete only when the
// flags of steps 1..n are all set. Steps without a flag require every
// earlier flag.
func StepComplete(s Status, n int) bool {
	if n < 1 || n > TotalSteps {
		return false
	}
	for _, step := range Steps[:n] {
		if step.Flag != "" && !s.Get(step.Flag) {
			return false
		}
	}
	return true
}

// StepProgress is the per-step view of a status.
type StepProgress struct {
	Step
	Complete bool `json:"complete"`
	Unlocked bool `json:"unlocked"`
	Current  bool `json:"current"`
}

// Progress derives the per-step view. A step is unlocked when every
// earlier step is complete.
func Progress(s Status, cursor int) []StepProgress {
	out := make([]StepProgress, 0, TotalSteps)
	for _, step := range Steps {
		out = append(out, StepProgress{
			Step:     step,
			Complete: StepComplete(s, step.Index),
			Unlocked: step.Index == 1 || StepComplete(s, step.Index-1),
			Current:  step.Index == cursor,
		})
	}
	return out
}

// Phase is the engine state for the active shop.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// Snapshot is a consistent view of the engine.
type Snapshot struct {
	ShopID     string         `json:"shop_id,omitempty"`
	Phase      Phase          `json:"phase"`
	Status     Status         `json:"status"`
	Fetched    bool           `json:"fetched"`
	Cursor     int            `json:"cursor"`
	TotalSteps int            `json:"total_steps"`
	Error      string         `json:"error,omitempty"`
	Steps      []StepProgress `json:"steps"`
}

// Loading reports whether status for the active shop is not known yet.
func (s Snapshot) Loading() bool {
	return s.Phase == PhaseLoading
}
