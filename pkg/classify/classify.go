// Package classify maps conditions raised by the external driver into the
// failure taxonomy that decides whether a sub-step is retried, skipped,
// failed, or aborts the shard.
package classify

import (
	"context"
	"errors"
	"strings"

	"batchmint/pkg/driver"
	"batchmint/pkg/models"
)

// Class is the failure taxonomy
type Class string

const (
	ClassValidation       Class = "validation"        // malformed record, caught before dispatch
	ClassTransient        Class = "transient"         // network/UI timing, retried with backoff
	ClassChallenge        Class = "challenge"         // solver invoked once, then one retry
	ClassPermanent        Class = "permanent"         // marketplace rejects the record, no retry
	ClassAlreadySatisfied Class = "already_satisfied" // treated as success, recorded skipped
	ClassFatal            Class = "fatal"             // driver session unusable, shard aborts
	ClassCancelled        Class = "cancelled"         // operator stop, not a record failure
)

// transientMarkers catches transient conditions surfacing as wrapped errors
// from the HTTP transport or the sidecar
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"temporary failure",
	"broken pipe",
	"eof",
	"502",
	"503",
	"504",
}

// Classify maps an error to its class. Unknown errors are permanent: retrying
// a condition we cannot name risks duplicate marketplace actions.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return ClassValidation
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, driver.ErrAlreadySatisfied):
		return ClassAlreadySatisfied
	case errors.Is(err, driver.ErrChallengeBlocked):
		return ClassChallenge
	case errors.Is(err, driver.ErrSessionLost):
		return ClassFatal
	case errors.Is(err, driver.ErrUnsupported):
		return ClassPermanent
	case errors.Is(err, driver.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ClassTransient
		}
	}

	return ClassPermanent
}

// Retryable reports whether the class is retried inside the state machine
func Retryable(c Class) bool {
	return c == ClassTransient || c == ClassChallenge
}
