package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"batchmint/pkg/driver"
	"batchmint/pkg/ledger"
	"batchmint/pkg/logging"
	"batchmint/pkg/models"
	"batchmint/pkg/shard"
)

// ShardOptions configures an in-process parallel run. Each shard gets its
// own driver session, its own ledger file and its own runner; shards share
// no mutable state. MaxActive caps how many shards hit the marketplace at
// once when they run against the same account.
type ShardOptions struct {
	Shards        int
	MaxActive     int
	LedgerDir     string
	LedgerBackend string
	Config        Config

	// NewDriver builds one isolated driver session per shard
	NewDriver func(shardIndex int) (driver.Driver, driver.Solver, error)
	// NewLogger builds the per-shard logger; nil falls back to Config.Logger
	NewLogger func(shardIndex int) (*logging.Logger, error)
}

// RunShards splits set into contiguous blocks and runs one scheduler per
// block. It returns per-shard summaries plus the merged ledger entries;
// shard key ranges are disjoint so the merge is a plain union.
func RunShards(ctx context.Context, set *models.RecordSet, opts ShardOptions) ([]*Summary, map[string]*models.ProgressEntry, error) {
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.MaxActive <= 0 || opts.MaxActive > opts.Shards {
		opts.MaxActive = opts.Shards
	}
	if opts.NewDriver == nil {
		return nil, nil, fmt.Errorf("shard run requires a driver factory")
	}

	parts, err := shard.Split(set, opts.Shards)
	if err != nil {
		return nil, nil, err
	}

	if opts.Config.Limiter == nil && opts.Config.Pace > 0 && opts.Shards > 1 {
		// all shards drive the same account; share one pacing limiter so
		// their combined rate stays at the configured pace
		opts.Config.Limiter = rate.NewLimiter(rate.Every(opts.Config.Pace), 1)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries = make([]*Summary, opts.Shards)
		errs      = make([]error, opts.Shards)
		merged    = make(map[string]*models.ProgressEntry)
		sem       = make(chan struct{}, opts.MaxActive)
	)

	for i := range parts {
		wg.Add(1)
		go func(idx int, part *models.RecordSet) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			entries, sum, err := runShard(ctx, idx, part, opts)
			summaries[idx] = sum
			errs[idx] = err

			mu.Lock()
			for key, entry := range entries {
				merged[key] = entry
			}
			mu.Unlock()
		}(i, parts[i])
	}
	wg.Wait()

	return summaries, merged, errors.Join(errs...)
}

// runShard owns one shard's resources end to end
func runShard(ctx context.Context, idx int, part *models.RecordSet, opts ShardOptions) (map[string]*models.ProgressEntry, *Summary, error) {
	cfg := opts.Config
	cfg.Shard = idx

	if opts.NewLogger != nil {
		log, err := opts.NewLogger(idx)
		if err != nil {
			return nil, nil, fmt.Errorf("shard %d: %w", idx, err)
		}
		defer log.Close()
		cfg.Logger = log
	}

	led, err := ledger.Open(ledger.Config{
		Backend: opts.LedgerBackend,
		Path:    ledger.ShardPath(opts.LedgerDir, idx, opts.Shards),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("shard %d: failed to open ledger: %w", idx, err)
	}
	defer led.Close()

	drv, solver, err := opts.NewDriver(idx)
	if err != nil {
		return nil, nil, fmt.Errorf("shard %d: failed to create driver: %w", idx, err)
	}
	defer drv.Close()

	sum, runErr := New(part, led, drv, solver, cfg).Run(ctx)

	entries := make(map[string]*models.ProgressEntry)
	snapshot, snapErr := led.Snapshot()
	if snapErr == nil {
		for _, entry := range snapshot {
			entries[entry.Key] = entry
		}
	}

	if runErr != nil {
		return entries, sum, fmt.Errorf("shard %d: %w", idx, runErr)
	}
	return entries, sum, snapErr
}
