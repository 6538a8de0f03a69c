package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowkernel/agentkernel/internal/ids"
)

// Provenance records where a Fact came from (spec §3).
type Provenance struct {
	RunID     ids.RunID
	Task      string
	Tool      string
	Timestamp time.Time
}

// Fact is a single semantic-memory assertion (spec §3). Confidence is
// clamped to [0,1] by callers; Semantic does not enforce the range itself.
type Fact struct {
	Key        string
	Value      any
	Provenance Provenance
	Confidence float64
}

// Conflict records two facts sharing a key whose values differ (spec §3).
type Conflict struct {
	Key        string
	FactA      Fact
	FactB      Fact
	Resolved   bool
	Resolution string
}

// Semantic is the kernel's fact store: an append-only history per key, with
// conflict detection whenever a new fact's value differs from the latest
// existing one for that key (spec §4.13).
type Semantic struct {
	mu        sync.Mutex
	history   map[string][]Fact
	conflicts []Conflict
}

// NewSemantic constructs an empty Semantic fact store.
func NewSemantic() *Semantic {
	return &Semantic{history: make(map[string][]Fact)}
}

// Add appends fact to its key's history. If the key already has a latest
// fact whose Value differs from the new one, a Conflict record is created
// (unresolved).
func (s *Semantic) Add(fact Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.history[fact.Key]
	if len(hist) > 0 {
		latest := hist[len(hist)-1]
		if !valuesEqual(latest.Value, fact.Value) {
			s.conflicts = append(s.conflicts, Conflict{Key: fact.Key, FactA: latest, FactB: fact})
		}
	}
	s.history[fact.Key] = append(hist, fact)
}

// Get returns the latest fact for key, if any.
func (s *Semantic) Get(key string) (Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.history[key]
	if len(hist) == 0 {
		return Fact{}, false
	}
	return hist[len(hist)-1], true
}

// GetHistory returns every fact recorded for key, oldest first.
func (s *Semantic) GetHistory(key string) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Fact, len(s.history[key]))
	copy(out, s.history[key])
	return out
}

// QueryByPrefix returns the latest fact for every key starting with prefix.
func (s *Semantic) QueryByPrefix(prefix string) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.history {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]Fact, 0, len(keys))
	for _, k := range keys {
		hist := s.history[k]
		if len(hist) > 0 {
			out = append(out, hist[len(hist)-1])
		}
	}
	return out
}

// QueryByRun returns every fact (across all keys) whose Provenance points
// at runID.
func (s *Semantic) QueryByRun(runID ids.RunID) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Fact
	for _, k := range keys {
		for _, f := range s.history[k] {
			if f.Provenance.RunID == runID {
				out = append(out, f)
			}
		}
	}
	return out
}

// GetConflicts returns every conflict recorded so far, in creation order.
func (s *Semantic) GetConflicts() []Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conflict, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// ResolveConflict marks the conflict at index resolved with the given
// resolution text.
func (s *Semantic) ResolveConflict(index int, resolution string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.conflicts) {
		return false
	}
	s.conflicts[index].Resolved = true
	s.conflicts[index].Resolution = resolution
	return true
}

func valuesEqual(a, b any) bool {
	af, aok := asComparableFloat(a)
	bf, bok := asComparableFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func asComparableFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
