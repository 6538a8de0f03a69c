// Package memstore provides an in-memory eventlog.Store for tests and local
// development. It is not durable across process restarts.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// Store implements eventlog.Store in memory, grounded on the reference
// runtime's runlog in-memory store: a slice of events per run, all guarded
// by one store-wide mutex.
type Store struct {
	mu     sync.Mutex
	events map[ids.RunID][]eventlog.Event
	seen   map[ids.RunID]map[int64]struct{}
}

// New returns an empty in-memory event store.
func New() *Store {
	return &Store{
		events: make(map[ids.RunID][]eventlog.Event),
		seen:   make(map[ids.RunID]map[int64]struct{}),
	}
}

// Append implements eventlog.Store.
func (s *Store) Append(_ context.Context, e eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[e.RunID]; !ok {
		s.seen[e.RunID] = make(map[int64]struct{})
	}
	if _, dup := s.seen[e.RunID][e.Seq]; dup {
		return eventlog.ErrDuplicateSeq
	}
	s.seen[e.RunID][e.Seq] = struct{}{}
	s.events[e.RunID] = append(s.events[e.RunID], e)
	return nil
}

// QueryByRun implements eventlog.Store. Events are returned ordered by Seq,
// matching sqlstore's "ORDER BY seq ASC": Append's lock is held only for the
// duration of one call, so concurrent callers (e.g. dag.go's parallel task
// goroutines, each allocating a seq and appending independently) can append
// out of seq order even though every seq is unique.
func (s *Store) QueryByRun(_ context.Context, runID ids.RunID) ([]eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventlog.Event, len(s.events[runID]))
	copy(out, s.events[runID])
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// QueryByKind implements eventlog.Store, ordered by Seq (see QueryByRun).
func (s *Store) QueryByKind(_ context.Context, runID ids.RunID, kind eventlog.Kind) ([]eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventlog.Event
	for _, e := range s.events[runID] {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Clear purges all events from the store. Provided for test isolation per
// spec §9's note on replacing global caches with an explicit owning store
// plus an explicit clear.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[ids.RunID][]eventlog.Event)
	s.seen = make(map[ids.RunID]map[int64]struct{})
}
