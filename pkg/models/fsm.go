package models

import (
	"fmt"
	"time"
)

// ItemStatus is the per-record processing state
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"     // Not yet dispatched
	ItemStatusInProgress ItemStatus = "in_progress" // Sub-steps executing against the driver
	ItemStatusDone       ItemStatus = "done"        // All sub-steps completed
	ItemStatusFailed     ItemStatus = "failed"      // Gave up; reason recorded
	ItemStatusSkipped    ItemStatus = "skipped"     // Remote state already satisfied the action
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[ItemStatus]map[ItemStatus]bool{
	ItemStatusPending: {
		ItemStatusInProgress: true, // Pending → InProgress (scheduler dispatches record)
		ItemStatusFailed:     true, // Pending → Failed (validation rejects record before dispatch)
	},
	ItemStatusInProgress: {
		ItemStatusDone:    true, // InProgress → Done (all sub-steps succeeded)
		ItemStatusFailed:  true, // InProgress → Failed (retries exhausted or permanent condition)
		ItemStatusSkipped: true, // InProgress → Skipped (action already satisfied remotely)
	},
	// Terminal states (no transitions allowed)
	ItemStatusDone:    {},
	ItemStatusFailed:  {},
	ItemStatusSkipped: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to ItemStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state admits no further transitions
func IsTerminalState(state ItemStatus) bool {
	return state == ItemStatusDone || state == ItemStatusFailed || state == ItemStatusSkipped
}

// Outcome is the durable per-record result stored in the ledger
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// OutcomeForStatus maps a terminal item state to its ledger outcome
func OutcomeForStatus(state ItemStatus) (Outcome, error) {
	switch state {
	case ItemStatusDone:
		return OutcomeCompleted, nil
	case ItemStatusFailed:
		return OutcomeFailed, nil
	case ItemStatusSkipped:
		return OutcomeSkipped, nil
	default:
		return "", fmt.Errorf("state %s is not terminal", state)
	}
}

// Step is one atomic driver action inside a record's workflow
type Step string

const (
	StepCreate Step = "create"
	StepList   Step = "list"
	StepDelete Step = "delete"
)

// StepsFor returns the ordered sub-step plan for an action
func StepsFor(action Action) []Step {
	switch action {
	case ActionUpload:
		return []Step{StepCreate}
	case ActionList:
		return []Step{StepList}
	case ActionUploadAndList:
		return []Step{StepCreate, StepList}
	case ActionDelete:
		return []Step{StepDelete}
	default:
		return nil
	}
}

// ProgressEntry is the ledger row for one record
type ProgressEntry struct {
	Key       string    `json:"key"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	LastStep  Step      `json:"last_step,omitempty"` // last successfully completed sub-step
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetryPolicy defines retry behavior for transient conditions
type RetryPolicy struct {
	MaxAttempts    int           // Total attempts per sub-step, including the first
	InitialBackoff time.Duration // Backoff after the first failed attempt
	MaxBackoff     time.Duration // Cap on backoff growth
	Multiplier     float64       // Exponential backoff multiplier
}

// DefaultRetryPolicy returns sensible defaults
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     1 * time.Minute,
		Multiplier:     2.0,
	}
}

// Backoff calculates the wait before the next attempt. attempt counts the
// failures so far, starting at 1.
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return rp.InitialBackoff
	}
	backoff := float64(rp.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= rp.Multiplier
	}
	d := time.Duration(backoff)
	if d > rp.MaxBackoff {
		return rp.MaxBackoff
	}
	return d
}
