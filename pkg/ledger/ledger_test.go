package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"batchmint/pkg/models"
)

func backends(t *testing.T) map[string]Ledger {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("opening sqlite ledger: %v", err)
	}
	return map[string]Ledger{
		"sqlite": sqlite,
		"memory": NewMemory(),
	}
}

func TestLedgerRecordAndLookup(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer l.Close()

			if _, ok, err := l.Lookup("missing"); err != nil || ok {
				t.Fatalf("Lookup on empty ledger: ok=%v err=%v", ok, err)
			}

			entry := &models.ProgressEntry{
				Key:      "rec-1",
				Outcome:  models.OutcomeCompleted,
				LastStep: models.StepList,
				Attempts: 2,
			}
			if err := l.Record(entry); err != nil {
				t.Fatalf("Record: %v", err)
			}
			if entry.UpdatedAt.IsZero() {
				t.Error("Record should stamp UpdatedAt")
			}

			got, ok, err := l.Lookup("rec-1")
			if err != nil || !ok {
				t.Fatalf("Lookup: ok=%v err=%v", ok, err)
			}
			if got.Outcome != models.OutcomeCompleted || got.LastStep != models.StepList || got.Attempts != 2 {
				t.Errorf("unexpected entry: %+v", got)
			}
		})
	}
}

func TestLedgerOverwrite(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer l.Close()

			first := &models.ProgressEntry{
				Key:       "rec-1",
				Outcome:   models.OutcomeFailed,
				Reason:    "attempt budget (3) exhausted",
				UpdatedAt: time.Now().UTC().Add(-time.Hour),
			}
			if err := l.Record(first); err != nil {
				t.Fatal(err)
			}
			second := &models.ProgressEntry{Key: "rec-1", Outcome: models.OutcomeCompleted}
			if err := l.Record(second); err != nil {
				t.Fatal(err)
			}

			got, ok, err := l.Lookup("rec-1")
			if err != nil || !ok {
				t.Fatalf("Lookup: ok=%v err=%v", ok, err)
			}
			if got.Outcome != models.OutcomeCompleted {
				t.Errorf("overwrite did not take: %+v", got)
			}
			if got.Reason != "" {
				t.Errorf("stale reason survived overwrite: %q", got.Reason)
			}

			entries, err := l.Snapshot()
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 {
				t.Errorf("overwrite should not duplicate rows, got %d", len(entries))
			}
		})
	}
}

func TestLedgerSnapshotOrder(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer l.Close()

			base := time.Now().UTC().Truncate(time.Second)
			for i, key := range []string{"c", "a", "b"} {
				err := l.Record(&models.ProgressEntry{
					Key:       key,
					Outcome:   models.OutcomeCompleted,
					UpdatedAt: base.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Fatal(err)
				}
			}

			entries, err := l.Snapshot()
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 3 {
				t.Fatalf("expected 3 entries, got %d", len(entries))
			}
			want := []string{"c", "a", "b"}
			for i := range want {
				if entries[i].Key != want[i] {
					t.Errorf("snapshot[%d] = %s, want %s", i, entries[i].Key, want[i])
				}
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")

	l, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	err = l.Record(&models.ProgressEntry{
		Key:     "rec-1",
		Outcome: models.OutcomeSkipped,
		Reason:  "already satisfied",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Lookup("rec-1")
	if err != nil || !ok {
		t.Fatalf("entry lost across reopen: ok=%v err=%v", ok, err)
	}
	if got.Outcome != models.OutcomeSkipped || got.Reason != "already satisfied" {
		t.Errorf("unexpected entry after reopen: %+v", got)
	}
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(Config{Backend: "sqlite", Path: filepath.Join(dir, "p.db")})
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	l.Close()

	if _, err := Open(Config{Backend: "memory"}); err != nil {
		t.Fatalf("memory backend: %v", err)
	}

	if _, err := Open(Config{Backend: "etcd"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestShardPath(t *testing.T) {
	if got := ShardPath("out", 0, 1); got != filepath.Join("out", "progress.db") {
		t.Errorf("single shard path = %s", got)
	}
	if got := ShardPath("out", 2, 4); got != filepath.Join("out", "progress-shard-2.db") {
		t.Errorf("multi shard path = %s", got)
	}
}
