package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"batchmint/pkg/driver"
	"batchmint/pkg/ledger"
	"batchmint/pkg/logging"
	"batchmint/pkg/models"
	"batchmint/pkg/parse"
	"batchmint/pkg/results"
)

func quietConfig(action models.Action) Config {
	return Config{
		Action: action,
		Retry: &models.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
		Logger: logging.New(logging.ERROR, false),
	}
}

func testSet(t *testing.T, ids ...string) *models.RecordSet {
	t.Helper()
	records := make([]*models.Record, len(ids))
	for i, id := range ids {
		records[i] = &models.Record{
			ID:         id,
			Name:       "Item " + id,
			AssetFiles: []string{id + ".png"},
			Price:      0.1,
		}
	}
	set, err := models.NewRecordSet(records)
	if err != nil {
		t.Fatalf("building set: %v", err)
	}
	return set
}

func mustLookup(t *testing.T, led ledger.Ledger, key string) *models.ProgressEntry {
	t.Helper()
	entry, ok, err := led.Lookup(key)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", key, err)
	}
	if !ok {
		t.Fatalf("no ledger entry for %s", key)
	}
	return entry
}

func TestRunAllCompleted(t *testing.T) {
	set := testSet(t, "a", "b", "c")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Done != 3 || sum.Failed != 0 || sum.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	for _, key := range []string{"a", "b", "c"} {
		if !drv.Created(key) || !drv.Listed(key) {
			t.Errorf("record %s not fully processed remotely", key)
		}
		entry := mustLookup(t, led, key)
		if entry.Outcome != models.OutcomeCompleted {
			t.Errorf("record %s outcome = %s", key, entry.Outcome)
		}
		if entry.LastStep != models.StepList {
			t.Errorf("record %s last step = %s, want list", key, entry.LastStep)
		}
	}
}

func TestRunResumeSkipsCompleted(t *testing.T) {
	set := testSet(t, "a", "b")
	led := ledger.NewMemory()
	if err := led.Record(&models.ProgressEntry{Key: "a", Outcome: models.OutcomeCompleted}); err != nil {
		t.Fatal(err)
	}
	drv := driver.NewDryRun(0)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.PriorDone != 1 || sum.Done != 1 {
		t.Errorf("summary = %+v, want 1 prior done and 1 done", sum)
	}
	if drv.Created("a") {
		t.Error("completed record must not be re-executed against the driver")
	}
	if !drv.Created("b") {
		t.Error("new record should have been processed")
	}
}

func TestRunResumeRetriesFailed(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	if err := led.Record(&models.ProgressEntry{
		Key:     "a",
		Outcome: models.OutcomeFailed,
		Reason:  "step create: boom",
	}); err != nil {
		t.Fatal(err)
	}
	drv := driver.NewDryRun(0)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 {
		t.Fatalf("failed record should be reprocessed: %+v", sum)
	}
	if got := mustLookup(t, led, "a"); got.Outcome != models.OutcomeCompleted {
		t.Errorf("outcome after retry = %s", got.Outcome)
	}
}

func TestRunSkippedStaysExcluded(t *testing.T) {
	set := testSet(t, "a")
	prior := &models.ProgressEntry{Key: "a", Outcome: models.OutcomeSkipped, Reason: "already satisfied"}

	led := ledger.NewMemory()
	if err := led.Record(prior); err != nil {
		t.Fatal(err)
	}
	drv := driver.NewDryRun(0)
	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.PriorSkipped != 1 || sum.Processed() != 0 {
		t.Errorf("skipped record processed without IncludeSkipped: %+v", sum)
	}

	led = ledger.NewMemory()
	if err := led.Record(prior); err != nil {
		t.Fatal(err)
	}
	drv = driver.NewDryRun(0)
	cfg := quietConfig(models.ActionUploadAndList)
	cfg.IncludeSkipped = true
	sum, err = New(set, led, drv, drv, cfg).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 {
		t.Errorf("IncludeSkipped should reprocess the record: %+v", sum)
	}
}

func TestRunAlreadySatisfiedIsSkipped(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.SeedExisting("a")

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 {
		t.Fatalf("summary = %+v, want 1 skipped", sum)
	}
	entry := mustLookup(t, led, "a")
	if entry.Outcome != models.OutcomeSkipped || entry.Reason != "already satisfied" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestRunPartialCreateContinuesToListing(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	// Entry created by an earlier interrupted run, listing still missing.
	drv.SeedCreated("a")

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 {
		t.Fatalf("summary = %+v, want the record completed", sum)
	}
	if !drv.Listed("a") {
		t.Error("listing step should have run after the confirmed create")
	}
}

func TestRunTransientRetrySucceeds(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.FailNext("a", models.StepCreate, driver.ErrUnavailable)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUpload)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if entry := mustLookup(t, led, "a"); entry.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one failure, one success)", entry.Attempts)
	}
}

func TestRunTransientBudgetExhausted(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	// create succeeds, every listing attempt fails
	drv.FailNext("a", models.StepList,
		driver.ErrUnavailable, driver.ErrUnavailable, driver.ErrUnavailable)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	entry := mustLookup(t, led, "a")
	if entry.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", entry.Outcome)
	}
	if !strings.Contains(entry.Reason, "attempt budget (3) exhausted") {
		t.Errorf("reason should name the exhausted budget: %q", entry.Reason)
	}
	if entry.LastStep != models.StepCreate {
		t.Errorf("last completed step = %s, want create", entry.LastStep)
	}
	if entry.Attempts != 4 {
		t.Errorf("attempts = %d, want 4 (1 create + 3 list)", entry.Attempts)
	}
}

func TestRunChallengeSolvedOnce(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.FailNext("a", models.StepCreate, driver.ErrChallengeBlocked)

	solves := 0
	solver := driver.SolverFunc(func(ctx context.Context) error {
		solves++
		return nil
	})

	sum, err := New(set, led, drv, solver, quietConfig(models.ActionUpload)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if solves != 1 {
		t.Errorf("solver invoked %d times, want exactly 1", solves)
	}
}

func TestRunChallengePersistsAfterSolve(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	// Challenge blocks the retry too: one solver invocation, then fail.
	drv.FailNext("a", models.StepCreate, driver.ErrChallengeBlocked, driver.ErrChallengeBlocked)

	solves := 0
	solver := driver.SolverFunc(func(ctx context.Context) error {
		solves++
		return nil
	})

	sum, err := New(set, led, drv, solver, quietConfig(models.ActionUpload)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	if solves != 1 {
		t.Errorf("solver invoked %d times, want exactly 1 per sub-step", solves)
	}
}

func TestRunChallengeWithoutSolverFails(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.FailNext("a", models.StepCreate, driver.ErrChallengeBlocked)

	sum, err := New(set, led, drv, nil, quietConfig(models.ActionUpload)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
}

func TestRunValidationFailure(t *testing.T) {
	records := []*models.Record{
		{ID: "good", AssetFiles: []string{"g.png"}, Price: 1},
		{ID: "bad"}, // no asset files, no price
	}
	set, err := models.NewRecordSet(records)
	if err != nil {
		t.Fatal(err)
	}
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	entry := mustLookup(t, led, "bad")
	if !strings.HasPrefix(entry.Reason, "validation:") {
		t.Errorf("reason = %q, want validation prefix", entry.Reason)
	}
	if drv.Created("bad") {
		t.Error("invalid record must never reach the driver")
	}
}

func TestRunFatalAbortsShard(t *testing.T) {
	set := testSet(t, "a", "b", "c")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.FailNext("b", models.StepCreate, driver.ErrSessionLost)

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUpload)).Run(context.Background())
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if sum.Done != 1 {
		t.Errorf("summary = %+v, want only the first record done", sum)
	}
	// The condition is not record b's fault: it stays pending.
	if _, ok, _ := led.Lookup("b"); ok {
		t.Error("record hit by session loss must not get a ledger entry")
	}
	if _, ok, _ := led.Lookup("c"); ok {
		t.Error("records after the abort must stay pending")
	}
}

func TestRunCancellation(t *testing.T) {
	set := testSet(t, "a", "b")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUpload)).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Cancelled {
		t.Error("summary should note the cancellation")
	}
	if sum.Processed() != 0 {
		t.Errorf("no record should be processed after cancel: %+v", sum)
	}
}

func TestRunCancelFinishesInFlightStep(t *testing.T) {
	set := testSet(t, "a", "b")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(250 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond) // lands mid-create of record a
		cancel()
	}()

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUpload)).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Cancelled {
		t.Error("summary should note the cancellation")
	}
	// The in-flight sub-step must run to completion, not be killed mid-call.
	if !drv.Created("a") {
		t.Error("in-flight create was aborted instead of finishing")
	}
	entry := mustLookup(t, led, "a")
	if entry.Outcome != models.OutcomeCompleted {
		t.Errorf("in-flight record outcome = %s, want completed", entry.Outcome)
	}
	// The next record never starts.
	if drv.Created("b") {
		t.Error("record after the cancel must not start")
	}
	if _, ok, _ := led.Lookup("b"); ok {
		t.Error("record after the cancel must stay pending")
	}
}

func TestRunCancelBetweenSubSteps(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(250 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond) // lands mid-create, before the listing step
		cancel()
	}()

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want the interrupted record failed", sum)
	}
	if !drv.Created("a") {
		t.Error("create should have finished before the stop took effect")
	}
	if drv.Listed("a") {
		t.Error("listing must not start after the cancel")
	}
	entry := mustLookup(t, led, "a")
	if entry.LastStep != models.StepCreate {
		t.Errorf("last completed step = %s, want create", entry.LastStep)
	}
	if !strings.Contains(entry.Reason, "cancelled") {
		t.Errorf("reason should name the cancellation: %q", entry.Reason)
	}
}

func TestRunChallengeSolverFailure(t *testing.T) {
	set := testSet(t, "a")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.FailNext("a", models.StepCreate, driver.ErrChallengeBlocked)

	solver := driver.SolverFunc(func(ctx context.Context) error {
		return errors.New("solver backend down")
	})

	sum, err := New(set, led, drv, solver, quietConfig(models.ActionUpload)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	entry := mustLookup(t, led, "a")
	if !strings.Contains(entry.Reason, "challenge not cleared") {
		t.Errorf("reason = %q", entry.Reason)
	}
	// The ledger must say why the solve failed, not just that it did.
	if !strings.Contains(entry.Reason, "solver backend down") {
		t.Errorf("reason should carry the solver error: %q", entry.Reason)
	}
}

func TestRunDeleteAction(t *testing.T) {
	set := testSet(t, "a", "b")
	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.SeedExisting("a")
	// b never existed remotely

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionDelete)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 1 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v, want 1 done and 1 skipped", sum)
	}
	if drv.Created("a") {
		t.Error("entry a should be gone")
	}
}

func TestSummaryMerge(t *testing.T) {
	a := &Summary{Done: 2, Failed: 1, Started: time.Unix(100, 0), Finished: time.Unix(200, 0)}
	b := &Summary{Done: 3, Skipped: 2, PriorDone: 1, Cancelled: true,
		Started: time.Unix(50, 0), Finished: time.Unix(300, 0)}

	a.Merge(b)
	if a.Done != 5 || a.Failed != 1 || a.Skipped != 2 || a.PriorDone != 1 {
		t.Errorf("merged counts wrong: %+v", a)
	}
	if !a.Cancelled {
		t.Error("cancellation should propagate through merge")
	}
	if !a.Started.Equal(time.Unix(50, 0)) || !a.Finished.Equal(time.Unix(300, 0)) {
		t.Errorf("merged window wrong: %v .. %v", a.Started, a.Finished)
	}
}

func TestRunShardsMatchesSingleRun(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("rec-%03d", i)
	}
	set := testSet(t, ids...)

	run := func(shards int) (*Summary, map[string]*models.ProgressEntry) {
		opts := ShardOptions{
			Shards:        shards,
			LedgerDir:     t.TempDir(),
			LedgerBackend: "memory",
			Config:        quietConfig(models.ActionUploadAndList),
			NewDriver: func(int) (driver.Driver, driver.Solver, error) {
				d := driver.NewDryRun(0)
				// every 10th record exists remotely already
				for i := 0; i < len(ids); i += 10 {
					d.SeedExisting(ids[i])
				}
				return d, d, nil
			},
		}
		summaries, entries, err := RunShards(context.Background(), set, opts)
		if err != nil {
			t.Fatalf("RunShards(%d): %v", shards, err)
		}
		total := &Summary{}
		for _, s := range summaries {
			total.Merge(s)
		}
		return total, entries
	}

	single, singleEntries := run(1)
	sharded, shardedEntries := run(4)

	if single.Done != sharded.Done || single.Skipped != sharded.Skipped || single.Failed != sharded.Failed {
		t.Errorf("sharded run diverged: single %+v, sharded %+v", single, sharded)
	}
	if len(singleEntries) != len(shardedEntries) {
		t.Fatalf("entry counts diverged: %d != %d", len(singleEntries), len(shardedEntries))
	}
	for key, entry := range singleEntries {
		other, ok := shardedEntries[key]
		if !ok {
			t.Errorf("key %s missing from sharded run", key)
			continue
		}
		if entry.Outcome != other.Outcome {
			t.Errorf("key %s outcome diverged: %s != %s", key, entry.Outcome, other.Outcome)
		}
	}
}

func TestEndToEndDerivedSets(t *testing.T) {
	// 10 records: 2 already exist remotely, 1 is malformed, 7 are new.
	records := make([]*models.Record, 0, 10)
	for i := 0; i < 9; i++ {
		records = append(records, &models.Record{
			ID:         fmt.Sprintf("rec-%d", i),
			AssetFiles: []string{"a.png"},
			Price:      1,
		})
	}
	records = append(records, &models.Record{ID: "malformed"})
	set, err := models.NewRecordSet(records)
	if err != nil {
		t.Fatal(err)
	}

	led := ledger.NewMemory()
	drv := driver.NewDryRun(0)
	drv.SeedExisting("rec-0", "rec-5")

	sum, err := New(set, led, drv, drv, quietConfig(models.ActionUploadAndList)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Done != 7 || sum.Skipped != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 7 done / 2 skipped / 1 failed", sum)
	}

	entries, err := results.CollectEntries(led)
	if err != nil {
		t.Fatal(err)
	}
	w := results.NewWriter(t.TempDir(), ".json", logging.New(logging.ERROR, false))
	failedPath, pendingPath, err := w.WriteDerived(set, entries, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	failed, err := parse.Load(failedPath)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Len() != 1 || failed.Records[0].ID != "malformed" {
		t.Errorf("failed set should hold exactly the malformed record: %v", failed.Keys())
	}

	pending, err := parse.Load(pendingPath)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Len() != 0 {
		t.Errorf("complete run should leave nothing pending: %v", pending.Keys())
	}
}

func TestRunShardsRequiresDriverFactory(t *testing.T) {
	_, _, err := RunShards(context.Background(), testSet(t, "a"), ShardOptions{Shards: 1})
	if err == nil {
		t.Fatal("expected error without driver factory")
	}
}
