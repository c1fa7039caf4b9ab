package ledger

import (
	"sync"
	"time"

	"batchmint/pkg/models"
)

// MemoryLedger is an in-memory ledger for tests and dry runs. It offers no
// durability and must not back a real run.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*models.ProgressEntry
	order   []string // insertion order for Snapshot
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]*models.ProgressEntry),
	}
}

func (l *MemoryLedger) Lookup(key string) (*models.ProgressEntry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *entry
	return &cp, true, nil
}

func (l *MemoryLedger) Record(entry *models.ProgressEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	cp := *entry
	if _, ok := l.entries[entry.Key]; !ok {
		l.order = append(l.order, entry.Key)
	}
	l.entries[entry.Key] = &cp
	return nil
}

func (l *MemoryLedger) Snapshot() ([]*models.ProgressEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]*models.ProgressEntry, 0, len(l.order))
	for _, key := range l.order {
		cp := *l.entries[key]
		entries = append(entries, &cp)
	}
	return entries, nil
}

func (l *MemoryLedger) Close() error { return nil }
