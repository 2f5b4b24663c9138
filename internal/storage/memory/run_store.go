package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/modian-insight/internal/runs"
)

// RunStore provides an in-memory runs.Repository for development/testing.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]runs.Run
	failures map[uuid.UUID][]runs.Failure
}

var _ runs.Repository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:     make(map[uuid.UUID]runs.Run),
		failures: make(map[uuid.UUID][]runs.Failure),
	}
}

// StartRun records a running row, keeping counters of an existing one.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = runs.Run{ID: runID, StartedAt: startedAt}
	}
	run.Status = runs.StatusRunning
	run.Total = total
	s.runs[runID] = run
	return nil
}

// UpdateCounters stores the latest counters.
func (s *RunStore) UpdateCounters(_ context.Context, runID uuid.UUID, completed, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return runs.ErrNotFound
	}
	run.Completed = completed
	run.Failed = failed
	s.runs[runID] = run
	return nil
}

// RecordFailure appends a failure row.
func (s *RunStore) RecordFailure(_ context.Context, failure runs.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failure.RunID] = append(s.failures[failure.RunID], failure)
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status runs.Status,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return runs.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return runs.Run{}, runs.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *runs.Status, limit, offset int) ([]runs.Run, error) {
	s.mu.RLock()
	out := make([]runs.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// ListFailures returns a run's failures in insertion order.
func (s *RunStore) ListFailures(_ context.Context, runID uuid.UUID, limit, offset int) ([]runs.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failures := append([]runs.Failure(nil), s.failures[runID]...)
	return page(failures, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
