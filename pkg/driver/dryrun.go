package driver

import (
	"context"
	"sync"
	"time"

	"batchmint/pkg/models"
)

// DryRun is an in-process driver simulator. It tracks created/listed state
// per identity key so repeated calls behave like the real marketplace
// (second create reports ErrAlreadySatisfied). Used by --dry-run and tests.
type DryRun struct {
	mu      sync.Mutex
	delay   time.Duration
	created map[string]bool
	listed  map[string]bool
	deleted map[string]bool

	// scripted failures, consumed in order per key+step
	failures map[string][]error
}

// NewDryRun creates a simulator with no pre-existing remote state
func NewDryRun(delay time.Duration) *DryRun {
	return &DryRun{
		delay:    delay,
		created:  make(map[string]bool),
		listed:   make(map[string]bool),
		deleted:  make(map[string]bool),
		failures: make(map[string][]error),
	}
}

// SeedExisting marks keys as already created and listed remotely
func (d *DryRun) SeedExisting(keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.created[k] = true
		d.listed[k] = true
	}
}

// SeedCreated marks keys as created remotely but not listed
func (d *DryRun) SeedCreated(keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.created[k] = true
	}
}

// FailNext queues errors to be returned by successive calls of step for key
func (d *DryRun) FailNext(key string, step models.Step, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := key + "/" + string(step)
	d.failures[id] = append(d.failures[id], errs...)
}

func (d *DryRun) scripted(key string, step models.Step) error {
	id := key + "/" + string(step)
	queue := d.failures[id]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	d.failures[id] = queue[1:]
	return err
}

func (d *DryRun) wait(ctx context.Context) error {
	if d.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.delay):
		return nil
	}
}

func (d *DryRun) CreateEntry(ctx context.Context, rec *models.Record) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := rec.Key()
	if err := d.scripted(key, models.StepCreate); err != nil {
		return err
	}
	if d.created[key] && !d.deleted[key] {
		return ErrAlreadySatisfied
	}
	d.created[key] = true
	d.deleted[key] = false
	return nil
}

func (d *DryRun) SetListing(ctx context.Context, rec *models.Record) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := rec.Key()
	if err := d.scripted(key, models.StepList); err != nil {
		return err
	}
	if d.listed[key] {
		return ErrAlreadySatisfied
	}
	d.listed[key] = true
	return nil
}

func (d *DryRun) DeleteEntry(ctx context.Context, rec *models.Record) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := rec.Key()
	if err := d.scripted(key, models.StepDelete); err != nil {
		return err
	}
	if !d.created[key] || d.deleted[key] {
		return ErrAlreadySatisfied
	}
	d.deleted[key] = true
	d.listed[key] = false
	return nil
}

func (d *DryRun) Close() error { return nil }

// Solve always succeeds; tests swap in a SolverFunc to script failures
func (d *DryRun) Solve(ctx context.Context) error {
	return d.wait(ctx)
}

// Created reports whether the simulator holds a live entry for key
func (d *DryRun) Created(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[key] && !d.deleted[key]
}

// Listed reports whether the simulator holds an active listing for key
func (d *DryRun) Listed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listed[key]
}
