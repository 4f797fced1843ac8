package models

import "time"

// Purchase attempt phases
const (
	PhaseIdle           = "idle"
	PhaseApproving      = "approving"
	PhaseSubmitting     = "submitting"
	PhasePendingReceipt = "pending_receipt"
	PhaseConfirmed      = "confirmed"
	PhaseFailed         = "failed"
)

// Valid phase transitions: from -> []to.
// The purchase tx depends on the allowance set by the approval, so approving
// must complete before submitting — there is no approving -> confirmed shortcut.
// pending_receipt covers a broadcast whose receipt did not arrive within the
// bounded wait; the worker finalizes it later.
var ValidPhaseTransitions = map[string][]string{
	PhaseIdle:           {PhaseApproving, PhaseFailed},
	PhaseApproving:      {PhaseSubmitting, PhaseFailed},
	PhaseSubmitting:     {PhaseConfirmed, PhasePendingReceipt, PhaseFailed},
	PhasePendingReceipt: {PhaseConfirmed, PhaseFailed},
	PhaseConfirmed:      {},
	PhaseFailed:         {},
}

func IsValidPhaseTransition(from, to string) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// PurchaseAttempt tracks one client-side attempt to buy a listing through the
// approval and submission phases. Attempts live in process memory only;
// confirmed purchases produce a persisted Transaction record.
type PurchaseAttempt struct {
	ListingID    string     `json:"listing_id"`
	BuyerAddress string     `json:"buyer_address"`
	EnergyAmount float64    `json:"energy_amount"`
	Price        float64    `json:"price"`
	Phase        string     `json:"phase"`
	TxRef        *string    `json:"tx_ref,omitempty"`
	FailureKind  *string    `json:"failure_kind,omitempty"`
	FailureText  *string    `json:"failure_text,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the attempt can no longer change phase.
func (a *PurchaseAttempt) Terminal() bool {
	return a.Phase == PhaseConfirmed || a.Phase == PhaseFailed
}

// InFlight reports whether a new attempt for the same listing must be rejected.
func (a *PurchaseAttempt) InFlight() bool {
	switch a.Phase {
	case PhaseApproving, PhaseSubmitting, PhasePendingReceipt:
		return true
	case PhaseIdle:
		// idle with no finish timestamp means preflight is still running
		return a.FinishedAt == nil
	}
	return false
}
