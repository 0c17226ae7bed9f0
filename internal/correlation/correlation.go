// Package correlation tracks which image query each published job answers.
package correlation

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrDuplicateJob = errors.New("job already bound")

type Entry struct {
	JobID        string
	ImageQueryID string
	Deadline     *time.Time
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Retention decides when Sweep may drop an entry.
type Retention struct {
	// Resolved keeps answered entries around so redeliveries are recognised.
	Resolved time.Duration
	// Expired is the grace period after a job deadline.
	Expired time.Duration
	// Unbounded caps entries without a deadline.
	Unbounded time.Duration
}

func DefaultRetention() Retention {
	return Retention{Resolved: 10 * time.Minute, Expired: 10 * time.Minute, Unbounded: 24 * time.Hour}
}

type Table interface {
	Bind(ctx context.Context, e Entry) error
	Lookup(ctx context.Context, jobID string) (Entry, bool, error)
	Resolve(ctx context.Context, jobID string, at time.Time) error
	Forget(ctx context.Context, jobID string) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryTable is a process-local Table guarded by a RWMutex.
type MemoryTable struct {
	Retention Retention

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory(r Retention) *MemoryTable {
	return &MemoryTable{Retention: r, entries: make(map[string]Entry)}
}

func (t *MemoryTable) Bind(_ context.Context, e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[string]Entry)
	}
	if _, ok := t.entries[e.JobID]; ok {
		return ErrDuplicateJob
	}
	t.entries[e.JobID] = e
	return nil
}

func (t *MemoryTable) Lookup(_ context.Context, jobID string) (Entry, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[jobID]
	return e, ok, nil
}

func (t *MemoryTable) Resolve(_ context.Context, jobID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[jobID]
	if !ok || e.ResolvedAt != nil {
		return nil
	}
	at = at.UTC()
	e.ResolvedAt = &at
	t.entries[jobID] = e
	return nil
}

func (t *MemoryTable) Forget(_ context.Context, jobID string) error {
	t.mu.Lock()
	delete(t.entries, jobID)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTable) Sweep(_ context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.entries {
		if t.Retention.expired(e, now) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live entries.
func (t *MemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (r Retention) expired(e Entry, now time.Time) bool {
	switch {
	case e.ResolvedAt != nil:
		return now.Sub(*e.ResolvedAt) > r.Resolved
	case e.Deadline != nil:
		return now.Sub(*e.Deadline) > r.Expired
	default:
		return r.Unbounded > 0 && now.Sub(e.CreatedAt) > r.Unbounded
	}
}
