// Package scheduler turns an ordered record set into a resumable sequence of
// marketplace operations. One Runner owns one driver session and processes
// its records strictly in order: a record finishes, its outcome is durably
// recorded, and only then does the next record start.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"batchmint/pkg/driver"
	"batchmint/pkg/ledger"
	"batchmint/pkg/logging"
	"batchmint/pkg/metrics"
	"batchmint/pkg/models"
	"batchmint/pkg/tracing"
)

// maxLogSize caps the run log file before rotation kicks in
const maxLogSize = 64 * 1024 * 1024

// Config holds run options for one scheduler instance
type Config struct {
	RunID          string
	Shard          int
	Action         models.Action
	Retry          *models.RetryPolicy
	Pace           time.Duration // minimum delay between records
	PaceJitter     float64       // extra random delay, fraction of Pace
	CallTimeout    time.Duration // per driver call
	IncludeSkipped bool          // reprocess records previously marked skipped

	// Limiter overrides the per-runner pacing limiter. An in-process
	// parallel run passes one shared limiter so the shards' combined
	// request rate stays inside the account-safe pace.
	Limiter *rate.Limiter

	Logger  *logging.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Provider
}

// FatalError wraps a condition that makes the driver session unusable. It
// aborts the shard and is not attributed to a single record.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("driver session unusable: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Runner processes one shard's records against one driver session
type Runner struct {
	set     *models.RecordSet
	ledger  ledger.Ledger
	driver  driver.Driver
	solver  driver.Solver
	cfg     Config
	limiter *rate.Limiter
	log     *logging.Logger
	metrics *metrics.Collector
}

// New creates a runner. solver may be nil when no challenge-solving
// collaborator is available; challenges then fail the record directly.
func New(set *models.RecordSet, led ledger.Ledger, drv driver.Driver, solver driver.Solver, cfg Config) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Retry == nil {
		cfg.Retry = models.DefaultRetryPolicy()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(logging.INFO, false)
	}

	limiter := cfg.Limiter
	if limiter == nil && cfg.Pace > 0 {
		// burst 1: the first record starts immediately, every following
		// record waits out the pacing interval
		limiter = rate.NewLimiter(rate.Every(cfg.Pace), 1)
	}

	return &Runner{
		set:     set,
		ledger:  led,
		driver:  drv,
		solver:  solver,
		cfg:     cfg,
		limiter: limiter,
		log:     cfg.Logger.WithField("shard", cfg.Shard),
		metrics: cfg.Metrics,
	}
}

// Run processes every record not already completed (or skipped, unless
// IncludeSkipped). Cancellation is cooperative: the in-flight record's
// outcome is persisted before Run returns. A FatalError aborts the shard;
// the ledger then reflects exactly the records processed so far.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:   r.cfg.RunID,
		Shard:   r.cfg.Shard,
		Started: time.Now(),
	}
	defer func() { sum.Finished = time.Now() }()

	r.log.Info("Run started", map[string]interface{}{
		"run_id": r.cfg.RunID, "records": r.set.Len(), "action": string(r.cfg.Action),
	})

	for _, rec := range r.set.Records {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		// multi-hour runs produce a lot of log; keep the file bounded
		if err := r.log.RotateIfNeeded(maxLogSize); err != nil {
			r.log.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
		}

		key := rec.Key()
		prev, ok, err := r.ledger.Lookup(key)
		if err != nil {
			return sum, fmt.Errorf("ledger lookup for %q failed: %w", key, err)
		}
		if ok {
			switch prev.Outcome {
			case models.OutcomeCompleted:
				sum.PriorDone++
				continue
			case models.OutcomeSkipped:
				if !r.cfg.IncludeSkipped {
					sum.PriorSkipped++
					continue
				}
			case models.OutcomeFailed:
				r.log.Info("Reprocessing previously failed record", map[string]interface{}{
					"key": key, "last_step": string(prev.LastStep), "reason": prev.Reason,
				})
			}
		}

		if err := r.pace(ctx); err != nil {
			sum.Cancelled = true
			break
		}

		entry, fatal := r.processRecord(ctx, rec)
		if entry != nil {
			if err := r.ledger.Record(entry); err != nil {
				return sum, fmt.Errorf("ledger write for %q failed: %w", key, err)
			}
			sum.count(entry.Outcome)
			r.metrics.RecordOutcome(string(entry.Outcome))
		}
		if fatal != nil {
			r.log.Error("Aborting shard", map[string]interface{}{"error": fatal.Error()})
			return sum, &FatalError{Err: fatal}
		}
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
	}

	r.log.Info("Run finished", map[string]interface{}{
		"run_id": sum.RunID, "done": sum.Done, "failed": sum.Failed,
		"skipped": sum.Skipped, "prior_done": sum.PriorDone, "cancelled": sum.Cancelled,
	})
	return sum, nil
}

// pace waits out the inter-record delay. Exists to avoid triggering
// anti-automation defenses; jitter keeps the cadence irregular.
func (r *Runner) pace(ctx context.Context) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if r.cfg.PaceJitter > 0 && r.cfg.Pace > 0 {
		jitter := time.Duration(rand.Float64() * r.cfg.PaceJitter * float64(r.cfg.Pace))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
	return nil
}

// Summary aggregates one run's outcomes
type Summary struct {
	RunID        string    `json:"run_id"`
	Shard        int       `json:"shard"`
	Done         int       `json:"done"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	PriorDone    int       `json:"prior_done"`    // completed in an earlier run, not re-executed
	PriorSkipped int       `json:"prior_skipped"` // skipped in an earlier run, excluded
	Cancelled    bool      `json:"cancelled"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished"`
}

func (s *Summary) count(outcome models.Outcome) {
	switch outcome {
	case models.OutcomeCompleted:
		s.Done++
	case models.OutcomeFailed:
		s.Failed++
	case models.OutcomeSkipped:
		s.Skipped++
	}
}

// Processed returns the number of records this run acted on
func (s *Summary) Processed() int {
	return s.Done + s.Failed + s.Skipped
}

// Merge folds other into s. Used to aggregate per-shard summaries.
func (s *Summary) Merge(other *Summary) {
	s.Done += other.Done
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.PriorDone += other.PriorDone
	s.PriorSkipped += other.PriorSkipped
	s.Cancelled = s.Cancelled || other.Cancelled
	if other.Started.Before(s.Started) || s.Started.IsZero() {
		s.Started = other.Started
	}
	if other.Finished.After(s.Finished) {
		s.Finished = other.Finished
	}
}
