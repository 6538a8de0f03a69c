package eventlog

import "sync"

// Counter is the run-wide seq allocator. A single executor instance owns one
// Counter per run and advances it under a mutex; every emitting call
// allocates the next value at append time so ordering reflects actual
// append order, not submission order (spec §4.3, §9). This replaces the
// closures-over-a-shared-counter pattern with an explicit, mutex-guarded
// reference passed to every component that can emit events for the run.
type Counter struct {
	mu sync.Mutex
	n  int64
}

// NewCounter returns a Counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterFrom returns a Counter whose next allocation is `from`, used by
// budget.SetSeq-style injection when a counter must be synchronized with an
// already-emitted prefix of events.
func NewCounterFrom(from int64) *Counter {
	return &Counter{n: from}
}

// Next allocates and returns the next seq value.
func (c *Counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.n
	c.n++
	return v
}
