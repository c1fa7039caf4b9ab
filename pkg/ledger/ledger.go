// Package ledger is the durable record of per-record outcomes. It is the
// source of truth for resumption: a crash right after a successful record
// must never replay that record, so Record returns only after the entry is
// on stable storage.
package ledger

import (
	"fmt"
	"path/filepath"

	"batchmint/pkg/models"
)

// Ledger maps identity keys to their latest progress entry
type Ledger interface {
	// Lookup returns the entry for key, or ok=false when absent
	Lookup(key string) (*models.ProgressEntry, bool, error)
	// Record durably stores the entry, overwriting any prior entry for its key
	Record(entry *models.ProgressEntry) error
	// Snapshot returns all entries ordered by update time
	Snapshot() ([]*models.ProgressEntry, error)
	Close() error
}

// Config holds ledger configuration
type Config struct {
	Backend string // "sqlite" or "memory"
	Path    string // database file, sqlite only
}

var ErrUnsupportedBackend = fmt.Errorf("unsupported ledger backend")

// Open creates a ledger based on configuration
func Open(cfg Config) (Ledger, error) {
	switch cfg.Backend {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "progress.db"
		}
		return OpenSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

// ShardPath returns the ledger file for one shard of a parallel run. Every
// shard writes its own file; disjoint keys mean no cross-shard locking.
func ShardPath(dir string, shard, total int) string {
	if total <= 1 {
		return filepath.Join(dir, "progress.db")
	}
	return filepath.Join(dir, fmt.Sprintf("progress-shard-%d.db", shard))
}
