// Package driver defines the boundary to the external marketplace UI driver
// and the challenge-solving collaborator. The batch core never touches a
// browser; it only calls these interfaces and classifies what they raise.
package driver

import (
	"context"
	"errors"

	"batchmint/pkg/models"
)

var (
	// ErrAlreadySatisfied means the action's target state already holds
	// remotely (entry exists, listing active, entry already gone).
	ErrAlreadySatisfied = errors.New("target state already satisfied")

	// ErrChallengeBlocked means an anti-automation challenge is blocking
	// the current sub-step.
	ErrChallengeBlocked = errors.New("blocked by verification challenge")

	// ErrUnsupported means the marketplace rejects the record permanently
	// (unsupported asset type, invalid collection, ...).
	ErrUnsupported = errors.New("unsupported by marketplace")

	// ErrSessionLost means the driver session itself is unusable. The
	// whole shard aborts; the condition is not attributed to one record.
	ErrSessionLost = errors.New("driver session lost")

	// ErrUnavailable means the driver could not complete the call right
	// now (timeout, navigation race). Retried with backoff.
	ErrUnavailable = errors.New("driver temporarily unavailable")
)

// Driver executes one atomic marketplace operation per call. Each call either
// succeeds, returns a classifiable error, or times out via ctx. A Driver
// wraps a single stateful session and must only ever be used by one worker.
type Driver interface {
	CreateEntry(ctx context.Context, rec *models.Record) error
	SetListing(ctx context.Context, rec *models.Record) error
	DeleteEntry(ctx context.Context, rec *models.Record) error
	Close() error
}

// Solver clears an anti-automation challenge. Invoked at most once per
// sub-step, only after the driver reports ErrChallengeBlocked.
type Solver interface {
	Solve(ctx context.Context) error
}

// SolverFunc adapts a function to the Solver interface
type SolverFunc func(ctx context.Context) error

func (f SolverFunc) Solve(ctx context.Context) error { return f(ctx) }
