package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// Spec is the fixed resource ceiling for a run. Every field must be > 0.
type Spec struct {
	MaxTokens         int64
	MaxToolCalls      int64
	MaxTimeS          float64
	MaxRecursionDepth int
	MaxParallel       int
}

// Usage tracks consumption against a Spec. TokensUsed, ToolCallsUsed, and
// TimeElapsedS are monotonically non-decreasing; CurrentRecursionDepth and
// CurrentParallel are signed-delta tracked (they go up and down as nested
// calls enter and exit).
type Usage struct {
	TokensUsed            int64
	ToolCallsUsed         int64
	TimeElapsedS          float64
	CurrentRecursionDepth int
	CurrentParallel       int
}

// Delta is applied to a Budget's Usage by Apply. Tokens and ToolCalls must
// be non-negative; RecursionDepth and Parallel may be negative to reflect a
// nested call or parallel branch exiting.
type Delta struct {
	Tokens         int64
	ToolCalls      int64
	RecursionDepth int
	Parallel       int
}

// Budget enforces Spec against accumulating Usage for a single run, emitting
// BudgetUpdated/BudgetExceeded events through the run's shared event log and
// seq counter. A Budget is constructed once per run and shared by every
// component (RLM, agent executor, DAG engine) that can consume resources
// under that run.
type Budget struct {
	mu        sync.Mutex
	spec      Spec
	usage     Usage
	startedAt time.Time

	runID ids.RunID
	seq   *eventlog.Counter
	store eventlog.Store
}

// NewBudget constructs a Budget for runID, sharing seq and store with every
// other component emitting events for the same run.
func NewBudget(runID ids.RunID, spec Spec, seq *eventlog.Counter, store eventlog.Store) *Budget {
	return &Budget{
		spec:      spec,
		startedAt: time.Now(),
		runID:     runID,
		seq:       seq,
		store:     store,
	}
}

type budgetUpdatedPayload struct {
	Delta Delta `json:"delta"`
	Usage Usage `json:"usage"`
}

type budgetExceededPayload struct {
	Limit string `json:"limit"`
	Usage Usage  `json:"usage"`
	Spec  Spec   `json:"spec"`
}

// Check verifies current usage against spec in the mandated predicate
// order (tokens, tool_calls, time_elapsed_s, recursion_depth, parallel). The
// first predicate that is satisfied names the limit field. On a violation it
// emits BudgetExceeded and returns a *BudgetExceededError; it never mutates
// usage.
func (b *Budget) Check(ctx context.Context) error {
	b.mu.Lock()
	usage := b.currentUsageLocked()
	spec := b.spec
	limit := firstExceededLimit(usage, spec)
	b.mu.Unlock()

	if limit == "" {
		return nil
	}

	if err := b.emit(ctx, eventlog.KindBudgetExceeded, budgetExceededPayload{
		Limit: limit,
		Usage: usage,
		Spec:  spec,
	}); err != nil {
		return err
	}
	return &BudgetExceededError{Limit: limit, Usage: usage, Spec: spec}
}

func firstExceededLimit(usage Usage, spec Spec) string {
	switch {
	case usage.TokensUsed >= spec.MaxTokens:
		return "max_tokens"
	case usage.ToolCallsUsed >= spec.MaxToolCalls:
		return "max_tool_calls"
	case usage.TimeElapsedS >= spec.MaxTimeS:
		return "max_time_s"
	case int64(usage.CurrentRecursionDepth) >= int64(spec.MaxRecursionDepth):
		return "max_recursion_depth"
	case int64(usage.CurrentParallel) >= int64(spec.MaxParallel):
		return "max_parallel"
	default:
		return ""
	}
}

// Apply updates usage by delta and emits BudgetUpdated. Tokens/ToolCalls
// deltas must be non-negative; RecursionDepth/Parallel may be negative.
func (b *Budget) Apply(ctx context.Context, delta Delta) error {
	if delta.Tokens < 0 || delta.ToolCalls < 0 {
		return fmt.Errorf("governance: negative delta only permitted for recursion_depth and parallel")
	}

	b.mu.Lock()
	b.usage.TokensUsed += delta.Tokens
	b.usage.ToolCallsUsed += delta.ToolCalls
	b.usage.CurrentRecursionDepth += delta.RecursionDepth
	b.usage.CurrentParallel += delta.Parallel
	usage := b.currentUsageLocked()
	b.mu.Unlock()

	return b.emit(ctx, eventlog.KindBudgetUpdated, budgetUpdatedPayload{Delta: delta, Usage: usage})
}

// RecordToolCall is a convenience wrapper applying a single tool-call delta.
func (b *Budget) RecordToolCall(ctx context.Context) error {
	return b.Apply(ctx, Delta{ToolCalls: 1})
}

// RecordTokens is a convenience wrapper applying a token-count delta.
func (b *Budget) RecordTokens(ctx context.Context, n int64) error {
	return b.Apply(ctx, Delta{Tokens: n})
}

// Usage returns a snapshot of current usage, with TimeElapsedS refreshed
// against the wall clock.
func (b *Budget) Usage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentUsageLocked()
}

// currentUsageLocked must be called with b.mu held. time_elapsed_s uses
// check-point semantics only: there is no background timer, so elapsed time
// is only as fresh as the most recent call that reads usage.
func (b *Budget) currentUsageLocked() Usage {
	u := b.usage
	u.TimeElapsedS = time.Since(b.startedAt).Seconds()
	return u
}

func (b *Budget) emit(ctx context.Context, kind eventlog.Kind, payload any) error {
	ev, err := eventlog.NewEvent(b.runID, b.seq.Next(), kind, payload)
	if err != nil {
		return err
	}
	return b.store.Append(ctx, ev)
}
