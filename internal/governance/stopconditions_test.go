package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func newTestStopConditions(limits StopConditionLimits) (*StopConditions, *memstore.Store, ids.RunID) {
	store := memstore.New()
	runID := ids.NewRunID()
	return NewStopConditions(limits, runID, eventlog.NewCounter(), store), store, runID
}

func TestStopConditionsRepeatedToolCallTriggers(t *testing.T) {
	ctx := context.Background()
	sc, store, runID := newTestStopConditions(StopConditionLimits{MaxRepeatedToolCalls: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, sc.RecordToolCall("demo.tool", map[string]any{"x": 1}))
	}

	reason, err := sc.Check(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, reason)

	events, err := store.QueryByKind(ctx, runID, eventlog.KindStopCondition)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestStopConditionsDistinctInputsDoNotAccumulate(t *testing.T) {
	ctx := context.Background()
	sc, _, _ := newTestStopConditions(StopConditionLimits{MaxRepeatedToolCalls: 2})

	require.NoError(t, sc.RecordToolCall("demo.tool", map[string]any{"x": 1}))
	require.NoError(t, sc.RecordToolCall("demo.tool", map[string]any{"x": 2}))

	reason, err := sc.Check(ctx)
	require.NoError(t, err)
	require.Empty(t, reason)
}

func TestStopConditionsConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	sc, _, _ := newTestStopConditions(StopConditionLimits{MaxConsecutiveFailures: 2})

	sc.RecordStepOutcome(false)
	reason, err := sc.Check(ctx)
	require.NoError(t, err)
	require.Empty(t, reason)

	sc.RecordStepOutcome(false)
	reason, err = sc.Check(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, reason)
}

func TestStopConditionsSuccessResetsCounters(t *testing.T) {
	ctx := context.Background()
	sc, _, _ := newTestStopConditions(StopConditionLimits{MaxConsecutiveFailures: 2, MaxNoProgressSteps: 2})

	sc.RecordStepOutcome(false)
	sc.RecordStepOutcome(true)
	sc.RecordStepOutcome(false)

	reason, err := sc.Check(ctx)
	require.NoError(t, err)
	require.Empty(t, reason)
}

func TestStopConditionsNoProgress(t *testing.T) {
	ctx := context.Background()
	sc, _, _ := newTestStopConditions(StopConditionLimits{MaxNoProgressSteps: 3})

	sc.RecordStepOutcome(false)
	sc.RecordStepOutcome(true)
	sc.RecordStepOutcome(false)
	sc.RecordStepOutcome(false)
	sc.RecordStepOutcome(false)

	reason, err := sc.Check(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, reason)
}
