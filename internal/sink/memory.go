package sink

import (
	"context"
	"sync"
)

// MemorySink keeps records in memory
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make([]Record, 0)}
}

// Write stores a copy of r
func (m *MemorySink) Write(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, r.clone())
	return nil
}

// Records returns copies of the stored records for runID
func (m *MemorySink) Records(ctx context.Context, runID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := filterRun(m.records, runID)
	out := make([]Record, len(matched))
	for i, r := range matched {
		out[i] = r.clone()
	}
	return out, nil
}

// Runs returns the stored run IDs in order of first write
func (m *MemorySink) Runs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return runsOf(m.records), nil
}

// Len returns the number of stored records
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close rejects further writes; stored records stay readable
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
