package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"batchmint/pkg/models"
)

// SQLiteLedger persists progress entries in a local SQLite database
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens or creates a ledger database.
// Connection parameters:
//   - _journal_mode=WAL: readers (status command) never block the writer
//   - _synchronous=FULL: an entry acknowledged by Record survives power loss
//   - _busy_timeout=10000: wait up to 10 seconds when the database is locked
func OpenSQLite(path string) (*SQLiteLedger, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=10000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// Single writer per shard by design; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	l := &SQLiteLedger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress (
		key        TEXT PRIMARY KEY,
		outcome    TEXT NOT NULL,
		reason     TEXT,
		last_step  TEXT,
		attempts   INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_outcome ON progress(outcome);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Lookup returns the latest entry for an identity key
func (l *SQLiteLedger) Lookup(key string) (*models.ProgressEntry, bool, error) {
	var entry models.ProgressEntry
	var reason, lastStep sql.NullString

	err := l.db.QueryRow(`
		SELECT key, outcome, reason, last_step, attempts, updated_at
		FROM progress WHERE key = ?
	`, key).Scan(&entry.Key, &entry.Outcome, &reason, &lastStep, &entry.Attempts, &entry.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entry.Reason = reason.String
	entry.LastStep = models.Step(lastStep.String)
	return &entry, true, nil
}

// Record stores an entry. With synchronous=FULL the statement does not
// return before the page reaches disk, which is the durability contract
// the scheduler relies on before advancing to the next record.
func (l *SQLiteLedger) Record(entry *models.ProgressEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO progress (key, outcome, reason, last_step, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Key, string(entry.Outcome), entry.Reason, string(entry.LastStep), entry.Attempts, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record progress for %q: %w", entry.Key, err)
	}
	return nil
}

// Snapshot returns all entries ordered by update time, then key
func (l *SQLiteLedger) Snapshot() ([]*models.ProgressEntry, error) {
	rows, err := l.db.Query(`
		SELECT key, outcome, reason, last_step, attempts, updated_at
		FROM progress ORDER BY updated_at, key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ProgressEntry
	for rows.Next() {
		var entry models.ProgressEntry
		var reason, lastStep sql.NullString
		if err := rows.Scan(&entry.Key, &entry.Outcome, &reason, &lastStep,
			&entry.Attempts, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		entry.Reason = reason.String
		entry.LastStep = models.Step(lastStep.String)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
