package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func newTestBudget(t *testing.T, spec Spec) (*Budget, *memstore.Store, ids.RunID) {
	t.Helper()
	store := memstore.New()
	runID := ids.NewRunID()
	seq := eventlog.NewCounter()
	return NewBudget(runID, spec, seq, store), store, runID
}

func TestBudgetCheckPassesUnderLimits(t *testing.T) {
	b, _, _ := newTestBudget(t, Spec{MaxTokens: 100, MaxToolCalls: 10, MaxTimeS: 60, MaxRecursionDepth: 4, MaxParallel: 4})
	require.NoError(t, b.Check(context.Background()))
}

func TestBudgetCheckExceedsTokens(t *testing.T) {
	ctx := context.Background()
	b, store, runID := newTestBudget(t, Spec{MaxTokens: 50, MaxToolCalls: 10, MaxTimeS: 60, MaxRecursionDepth: 4, MaxParallel: 4})

	require.NoError(t, b.RecordTokens(ctx, 60))

	err := b.Check(ctx)
	require.Error(t, err)
	var bee *BudgetExceededError
	require.ErrorAs(t, err, &bee)
	require.Equal(t, "max_tokens", bee.Limit)

	events, err := store.QueryByKind(ctx, runID, eventlog.KindBudgetExceeded)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestBudgetApplyEmitsBudgetUpdated(t *testing.T) {
	ctx := context.Background()
	b, store, runID := newTestBudget(t, Spec{MaxTokens: 1000, MaxToolCalls: 10, MaxTimeS: 60, MaxRecursionDepth: 4, MaxParallel: 4})

	require.NoError(t, b.RecordToolCall(ctx))
	require.Equal(t, int64(1), b.Usage().ToolCallsUsed)

	events, err := store.QueryByKind(ctx, runID, eventlog.KindBudgetUpdated)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestBudgetApplyRejectsNegativeTokenDelta(t *testing.T) {
	b, _, _ := newTestBudget(t, Spec{MaxTokens: 100, MaxToolCalls: 10, MaxTimeS: 60, MaxRecursionDepth: 4, MaxParallel: 4})
	err := b.Apply(context.Background(), Delta{Tokens: -1})
	require.Error(t, err)
}

func TestBudgetRecursionDepthAllowsNegativeDelta(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBudget(t, Spec{MaxTokens: 100, MaxToolCalls: 10, MaxTimeS: 60, MaxRecursionDepth: 4, MaxParallel: 4})

	require.NoError(t, b.Apply(ctx, Delta{RecursionDepth: 1}))
	require.NoError(t, b.Apply(ctx, Delta{RecursionDepth: -1}))
	require.Equal(t, 0, b.Usage().CurrentRecursionDepth)
}

func TestBudgetCheckOrderPrefersEarlierPredicate(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBudget(t, Spec{MaxTokens: 10, MaxToolCalls: 1, MaxTimeS: 60, MaxRecursionDepth: 4, MaxParallel: 4})

	require.NoError(t, b.RecordTokens(ctx, 10))
	require.NoError(t, b.RecordToolCall(ctx))

	err := b.Check(ctx)
	var bee *BudgetExceededError
	require.ErrorAs(t, err, &bee)
	require.Equal(t, "max_tokens", bee.Limit)
}
