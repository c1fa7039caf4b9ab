package scheduler

import (
	"context"
	"fmt"
	"time"

	"batchmint/pkg/classify"
	"batchmint/pkg/models"
)

// processRecord drives one record through pending → in-progress → terminal.
// It returns the ledger entry to persist and, separately, a fatal error when
// the driver session itself died. On fatal the entry is nil: the condition
// is not the record's fault and the record stays pending for the next run.
func (r *Runner) processRecord(ctx context.Context, rec *models.Record) (*models.ProgressEntry, error) {
	key := rec.Key()
	action := rec.EffectiveAction(r.cfg.Action)
	state := models.ItemStatusPending

	ctx, endSpan := r.startSpan(ctx, "record/"+key)
	defer endSpan()

	// Validation failures never enter in-progress
	if err := rec.Validate(r.cfg.Action); err != nil {
		r.transition(&state, models.ItemStatusFailed)
		r.log.Warn("Record rejected by validation", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return &models.ProgressEntry{
			Key:     key,
			Outcome: models.OutcomeFailed,
			Reason:  "validation: " + err.Error(),
		}, nil
	}

	r.transition(&state, models.ItemStatusInProgress)

	steps := models.StepsFor(action)
	attempts := 0
	var lastOK models.Step

	entry := func(outcome models.Outcome, reason string) *models.ProgressEntry {
		return &models.ProgressEntry{
			Key:      key,
			Outcome:  outcome,
			Reason:   reason,
			LastStep: lastOK,
			Attempts: attempts,
		}
	}

	for i, step := range steps {
		// cancellation is honored between sub-steps, never inside one
		if ctx.Err() != nil {
			r.transition(&state, models.ItemStatusFailed)
			return entry(models.OutcomeFailed, fmt.Sprintf("run cancelled before step %s", step)), nil
		}

		err := r.runStep(ctx, rec, step, &attempts)
		if err == nil {
			lastOK = step
			continue
		}

		switch classify.Classify(err) {
		case classify.ClassAlreadySatisfied:
			if step == models.StepCreate && i < len(steps)-1 {
				// The entry exists from an earlier partial run; that is
				// exactly the confirmation needed to continue with listing.
				r.log.Info("Entry already created, continuing", map[string]interface{}{"key": key})
				lastOK = step
				continue
			}
			r.transition(&state, models.ItemStatusSkipped)
			r.log.Info("Action already satisfied remotely, skipping", map[string]interface{}{"key": key})
			return entry(models.OutcomeSkipped, "already satisfied"), nil

		case classify.ClassCancelled:
			r.transition(&state, models.ItemStatusFailed)
			return entry(models.OutcomeFailed, fmt.Sprintf("step %s: run cancelled", step)), nil

		case classify.ClassFatal:
			return nil, err

		default:
			r.transition(&state, models.ItemStatusFailed)
			r.log.Warn("Record failed", map[string]interface{}{
				"key": key, "step": string(step), "error": err.Error(),
			})
			return entry(models.OutcomeFailed, fmt.Sprintf("step %s: %v", step, err)), nil
		}
	}

	r.transition(&state, models.ItemStatusDone)
	r.log.Info("Record done", map[string]interface{}{"key": key, "attempts": attempts})
	return entry(models.OutcomeCompleted, ""), nil
}

// runStep executes one sub-step with the declared retry policy: transient
// conditions retry with backoff up to the attempt budget, a blocking
// challenge gets one solver invocation and one retry, everything else
// returns to the caller for terminal handling.
func (r *Runner) runStep(ctx context.Context, rec *models.Record, step models.Step, attempts *int) error {
	challengeUsed := false

	for attempt := 1; ; attempt++ {
		*attempts++
		err := r.callDriver(ctx, rec, step)
		if err == nil {
			r.metrics.RecordStep(string(step), "ok")
			return nil
		}

		class := classify.Classify(err)
		r.metrics.RecordStep(string(step), string(class))

		switch class {
		case classify.ClassTransient:
			if attempt >= r.cfg.Retry.MaxAttempts {
				return fmt.Errorf("attempt budget (%d) exhausted: %w", r.cfg.Retry.MaxAttempts, err)
			}
			backoff := r.cfg.Retry.Backoff(attempt)
			r.metrics.RecordRetry()
			r.log.Warn("Transient failure, retrying", map[string]interface{}{
				"key": rec.Key(), "step": string(step), "attempt": attempt,
				"backoff": backoff.String(), "error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

		case classify.ClassChallenge:
			if challengeUsed || r.solver == nil {
				return err
			}
			challengeUsed = true
			r.log.Info("Challenge blocking step, invoking solver", map[string]interface{}{
				"key": rec.Key(), "step": string(step),
			})
			if serr := r.solver.Solve(ctx); serr != nil {
				r.metrics.RecordChallenge(false)
				return fmt.Errorf("challenge not cleared (%v): %w", serr, err)
			}
			r.metrics.RecordChallenge(true)
			// one retry of the same sub-step after a cleared challenge

		default:
			return err
		}
	}
}

// callDriver dispatches one sub-step with the mandatory per-call timeout.
// The call context is detached from run cancellation: killing a driver call
// mid-flight could leave the remote UI in a state the ledger cannot name, so
// an operator stop lets the atomic step finish and takes effect before the
// next one. The timeout still bounds the call.
func (r *Runner) callDriver(ctx context.Context, rec *models.Record, step models.Step) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
	defer cancel()

	cctx, endSpan := r.startSpan(cctx, "step/"+string(step))
	defer endSpan()

	switch step {
	case models.StepCreate:
		return r.driver.CreateEntry(cctx, rec)
	case models.StepList:
		return r.driver.SetListing(cctx, rec)
	case models.StepDelete:
		return r.driver.DeleteEntry(cctx, rec)
	default:
		return fmt.Errorf("unknown sub-step %q", step)
	}
}

// transition advances the tracked item state, enforcing the FSM table. A
// violation is a programming error; it is logged rather than silently lost.
func (r *Runner) transition(state *models.ItemStatus, to models.ItemStatus) {
	if err := models.ValidateTransition(*state, to); err != nil {
		r.log.Error("Illegal state transition", map[string]interface{}{"error": err.Error()})
	}
	*state = to
}

// startSpan opens a tracing span when tracing is configured
func (r *Runner) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if r.cfg.Tracer == nil {
		return ctx, func() {}
	}
	sctx, span := r.cfg.Tracer.StartSpan(ctx, name)
	return sctx, func() { span.End() }
}
