package governance

import (
	"context"
	"sync"

	"github.com/flowkernel/agentkernel/internal/tool"
)

// semaphore is a cond-based counting semaphore. Acquire blocks until a slot
// is free or ctx is cancelled; TryAcquire never blocks. Fairness is not
// guaranteed: a waiter woken by Broadcast races every other waiter for the
// freed slot.
type semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int
	current int
}

func newSemaphore(max int) *semaphore {
	if max <= 0 {
		max = 1
	}
	s := &semaphore{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.current < s.max {
		s.current++
		s.mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	cancelled := false
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cancelled = true
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	for s.current >= s.max && !cancelled {
		s.cond.Wait()
	}
	if cancelled {
		s.mu.Unlock()
		close(done)
		return ctx.Err()
	}
	s.current++
	s.mu.Unlock()
	close(done)
	return nil
}

func (s *semaphore) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < s.max {
		s.current++
		return true
	}
	return false
}

func (s *semaphore) release() {
	s.mu.Lock()
	if s.current > 0 {
		s.current--
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *semaphore) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Concurrency bounds how many tool calls may run at once, both globally and
// per tool. A caller must acquire the global permit before the per-tool
// permit, and release the per-tool permit before the global one, so a
// blocked per-tool acquire never holds the global slot hostage for longer
// than necessary. Grounded on the reference runtime's cond-based weighted
// semaphore, specialized here to single-unit permits keyed by tool name.
type Concurrency struct {
	global *semaphore

	mu      sync.Mutex
	perTool map[tool.ID]*semaphore
	maxTool int
}

// NewConcurrency constructs a Concurrency limiter with the given global
// max_parallel. Per-tool semaphores are created lazily on first use, each
// sized to the same max_parallel (a single tool can never exceed the global
// bound anyway).
func NewConcurrency(maxParallel int) *Concurrency {
	return &Concurrency{
		global:  newSemaphore(maxParallel),
		perTool: make(map[tool.ID]*semaphore),
		maxTool: maxParallel,
	}
}

func (c *Concurrency) toolSemaphore(name tool.ID) *semaphore {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.perTool[name]
	if !ok {
		s = newSemaphore(c.maxTool)
		c.perTool[name] = s
	}
	return s
}

// Acquire blocks for a global slot, then a per-tool slot. If name is empty,
// only the global slot is acquired. On context cancellation after having
// acquired the global slot but before the per-tool slot, the global slot is
// released before returning the error.
func (c *Concurrency) Acquire(ctx context.Context, name tool.ID) error {
	if err := c.global.acquire(ctx); err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	if err := c.toolSemaphore(name).acquire(ctx); err != nil {
		c.global.release()
		return err
	}
	return nil
}

// TryAcquire is the non-blocking variant of Acquire.
func (c *Concurrency) TryAcquire(name tool.ID) bool {
	if !c.global.tryAcquire() {
		return false
	}
	if name == "" {
		return true
	}
	if !c.toolSemaphore(name).tryAcquire() {
		c.global.release()
		return false
	}
	return true
}

// Release is the symmetric counterpart to Acquire/TryAcquire: the per-tool
// slot is released before the global one.
func (c *Concurrency) Release(name tool.ID) {
	if name != "" {
		c.toolSemaphore(name).release()
	}
	c.global.release()
}

// ActiveCount returns the number of globally held permits.
func (c *Concurrency) ActiveCount() int {
	return c.global.activeCount()
}
