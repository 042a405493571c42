// Package run holds the state owned by a single pipeline run: the item set,
// the per-item result table, the append-only error registry, and the usage
// aggregator. These are the only structures mutated concurrently by worker
// tasks, so each guards itself; everything else in a run is immutable.
package run

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvidra/photoflow/pkg/schema"
)

// ErrorRegistry is a thread-safe append-only log of structured error records.
type ErrorRegistry struct {
	mu      sync.Mutex
	records []schema.ErrorRecord
}

// NewErrorRegistry creates an empty registry.
func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{}
}

// Append adds a record. Timestamp and ID are filled in when absent.
func (r *ErrorRegistry) Append(rec schema.ErrorRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Len returns the number of records appended so far.
func (r *ErrorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Snapshot returns a copy of all records in append order.
func (r *ErrorRegistry) Snapshot() []schema.ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.ErrorRecord, len(r.records))
	copy(out, r.records)
	return out
}

// CountBySeverity returns the number of records at the given severity.
func (r *ErrorRegistry) CountBySeverity(sev schema.ErrorSeverity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Severity == sev {
			n++
		}
	}
	return n
}
