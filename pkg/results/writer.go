// Package results emits the end-of-run derived sets. However a run ends,
// the operator gets two files in the input schema: the failed records for
// inspection and the still-pending records for direct re-submission as a
// fresh run.
package results

import (
	"fmt"
	"path/filepath"

	"batchmint/pkg/ledger"
	"batchmint/pkg/logging"
	"batchmint/pkg/models"
	"batchmint/pkg/parse"
)

// Writer derives continuation files from the ledger
type Writer struct {
	dir string
	ext string // output format, mirrors the input file extension
	log *logging.Logger
}

// NewWriter creates a writer. ext includes the dot, e.g. ".json".
func NewWriter(dir, ext string, log *logging.Logger) *Writer {
	if ext == "" {
		ext = ".json"
	}
	if log == nil {
		log = logging.New(logging.INFO, false)
	}
	return &Writer{dir: dir, ext: ext, log: log}
}

// WriteDerived splits the set by ledger outcome and writes the failed and
// pending subsets. Records without a ledger entry are pending; completed and
// skipped records appear in neither file.
func (w *Writer) WriteDerived(set *models.RecordSet, entries map[string]*models.ProgressEntry, runID string) (string, string, error) {
	var failed, pending []*models.Record
	for _, rec := range set.Records {
		entry, ok := entries[rec.Key()]
		switch {
		case !ok:
			pending = append(pending, rec)
		case entry.Outcome == models.OutcomeFailed:
			failed = append(failed, rec)
		}
	}

	failedPath, err := w.write("failed", runID, failed)
	if err != nil {
		return "", "", err
	}
	pendingPath, err := w.write("pending", runID, pending)
	if err != nil {
		return failedPath, "", err
	}

	w.log.Info("Derived result sets written", map[string]interface{}{
		"failed": len(failed), "pending": len(pending),
	})
	return failedPath, pendingPath, nil
}

func (w *Writer) write(kind, runID string, records []*models.Record) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", kind, runID, w.ext))
	if err := parse.Write(&models.RecordSet{Records: records}, path); err != nil {
		return "", fmt.Errorf("failed to write %s set: %w", kind, err)
	}
	return path, nil
}

// CollectEntries merges ledger snapshots into one key-indexed map. Shards
// own disjoint key ranges, so merging is a plain union.
func CollectEntries(ledgers ...ledger.Ledger) (map[string]*models.ProgressEntry, error) {
	merged := make(map[string]*models.ProgressEntry)
	for _, led := range ledgers {
		entries, err := led.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot ledger: %w", err)
		}
		for _, entry := range entries {
			merged[entry.Key] = entry
		}
	}
	return merged, nil
}
