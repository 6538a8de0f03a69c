package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func TestLinearEngine_SuccessSequence(t *testing.T) {
	store := memstore.New()
	engine := NewLinearEngine(store)

	wf := LinearWorkflow{
		Name: "wf",
		Tasks: []TaskDef{
			{Name: "T1", Run: func(context.Context, map[string]any) (any, error) { return 1, nil }},
			{Name: "T2", Run: func(context.Context, map[string]any) (any, error) { return 2, nil }},
		},
	}

	runID, err := engine.Run(context.Background(), wf, "")
	require.NoError(t, err)

	events, err := store.QueryByRun(context.Background(), runID)
	require.NoError(t, err)
	require.NoError(t, eventlog.ValidateDenseSeq(events))

	var kinds []eventlog.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []eventlog.Kind{
		eventlog.KindRunStarted,
		eventlog.KindTaskStarted, eventlog.KindTaskFinished,
		eventlog.KindTaskStarted, eventlog.KindTaskFinished,
		eventlog.KindRunFinished,
	}, kinds)

	var fin runFinishedPayload
	require.NoError(t, events[len(events)-1].Decode(&fin))
	require.Equal(t, "SUCCEEDED", fin.Outcome)
}

func TestLinearEngine_FailureTerminatesRun(t *testing.T) {
	store := memstore.New()
	engine := NewLinearEngine(store)
	boom := errors.New("boom")

	var ranThird bool
	wf := LinearWorkflow{
		Name: "wf",
		Tasks: []TaskDef{
			{Name: "T1", Run: func(context.Context, map[string]any) (any, error) { return 1, nil }},
			{Name: "T2", Run: func(context.Context, map[string]any) (any, error) { return nil, boom }},
			{Name: "T3", Run: func(context.Context, map[string]any) (any, error) { ranThird = true; return nil, nil }},
		},
	}

	runID, err := engine.Run(context.Background(), wf, "")
	require.Error(t, err)
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "T2", taskErr.FailedTask)
	require.False(t, ranThird)

	events, err := store.QueryByRun(context.Background(), runID)
	require.NoError(t, err)

	var fin runFinishedPayload
	require.NoError(t, events[len(events)-1].Decode(&fin))
	require.Equal(t, "FAILED", fin.Outcome)
	require.Equal(t, "T2", fin.FailedTask)
}

func TestLinearEngine_UsesSuppliedRunID(t *testing.T) {
	store := memstore.New()
	engine := NewLinearEngine(store)
	wf := LinearWorkflow{Name: "wf", Tasks: []TaskDef{
		{Name: "T1", Run: func(context.Context, map[string]any) (any, error) { return nil, nil }},
	}}
	want := ids.NewRunID()
	got, err := engine.Run(context.Background(), wf, want)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
