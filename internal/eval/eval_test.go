package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func wantEquals(expected any) Want {
	return func(result any) error {
		if result != expected {
			return errors.New("unexpected result")
		}
		return nil
	}
}

func TestRunner_AggregatesPassRateAndDuration(t *testing.T) {
	suite := Suite{
		Name: "arithmetic",
		Cases: []Case{
			{Name: "two_plus_two", Input: 2, Want: wantEquals(4)},
			{Name: "three_plus_two", Input: 3, Want: wantEquals(4)},
		},
		Target: func(_ context.Context, input any) (any, ids.RunID, error) {
			return input.(int) + 2, "", nil
		},
	}

	runner := NewRunner(nil)
	report, err := runner.Run(context.Background(), suite)
	require.NoError(t, err)

	require.Equal(t, 2, report.Total)
	require.Equal(t, 1, report.Passed)
	require.Equal(t, 1, report.Failed)
	require.InDelta(t, 0.5, report.PassRate, 0.0001)
	require.Equal(t, report.Duration/2, report.MeanDuration)
	require.Len(t, report.Cases, 2)
	require.True(t, report.Cases[0].Passed)
	require.False(t, report.Cases[1].Passed)
	require.NotEmpty(t, report.Cases[1].Error)
}

func TestRunner_AggregatesMeanToolCalls(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	seedRun := func(toolCalls int) ids.RunID {
		runID := ids.NewRunID()
		seq := eventlog.NewCounter()
		ev, err := eventlog.NewEvent(runID, seq.Next(), eventlog.KindRunStarted, map[string]any{})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, ev))
		for i := 0; i < toolCalls; i++ {
			ev, err := eventlog.NewEvent(runID, seq.Next(), eventlog.KindToolCallStarted, map[string]any{"n": i})
			require.NoError(t, err)
			require.NoError(t, store.Append(ctx, ev))
		}
		ev, err = eventlog.NewEvent(runID, seq.Next(), eventlog.KindRunFinished, map[string]any{"outcome": "SUCCEEDED"})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, ev))
		return runID
	}

	calls := []int{2, 4}
	idx := 0
	suite := Suite{
		Name: "agent-suite",
		Cases: []Case{
			{Name: "a"},
			{Name: "b"},
		},
		Target: func(_ context.Context, _ any) (any, ids.RunID, error) {
			runID := seedRun(calls[idx])
			idx++
			return nil, runID, nil
		},
	}

	runner := NewRunner(store)
	report, err := runner.Run(ctx, suite)
	require.NoError(t, err)
	require.Equal(t, 2, report.Passed)
	require.InDelta(t, 3.0, report.MeanToolCalls, 0.0001)
}
