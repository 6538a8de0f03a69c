package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	runID := ids.NewRunID()

	e0, err := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{"workflow": "wf"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, e0))

	e1, err := eventlog.NewEvent(runID, 1, eventlog.KindTaskStarted, map[string]any{"task_id": "t1"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, e1))

	events, err := s.QueryByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NoError(t, eventlog.ValidateDenseSeq(events))

	started, err := s.QueryByKind(ctx, runID, eventlog.KindTaskStarted)
	require.NoError(t, err)
	require.Len(t, started, 1)
}

func TestAppendDuplicateSeqRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	runID := ids.NewRunID()

	e0, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{})
	require.NoError(t, s.Append(ctx, e0))

	dup, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunFinished, map[string]any{})
	err := s.Append(ctx, dup)
	require.ErrorIs(t, err, eventlog.ErrDuplicateSeq)
}

// TestQueryOrdersBySeqDespiteOutOfOrderAppend reproduces what the
// diamond-parallelism scenario dag.go's RunWithCounter produces: concurrent
// per-task goroutines each allocate a seq (via eventlog.Counter.Next) and
// append independently, so a higher seq can win the race and land in the
// store before a lower one. Both QueryByRun and QueryByKind must still
// return events ordered by Seq, not by append order, matching sqlstore's
// ORDER BY seq ASC.
func TestQueryOrdersBySeqDespiteOutOfOrderAppend(t *testing.T) {
	ctx := context.Background()
	s := New()
	runID := ids.NewRunID()

	e0, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{})
	require.NoError(t, s.Append(ctx, e0))

	high, _ := eventlog.NewEvent(runID, 2, eventlog.KindTaskStarted, map[string]any{"task_name": "high"})
	low, _ := eventlog.NewEvent(runID, 1, eventlog.KindTaskStarted, map[string]any{"task_name": "low"})

	// Append the higher seq before the lower one, as a losing goroutine
	// race would.
	require.NoError(t, s.Append(ctx, high))
	require.NoError(t, s.Append(ctx, low))

	events, err := s.QueryByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		require.Less(t, events[i-1].Seq, events[i].Seq)
	}

	started, err := s.QueryByKind(ctx, runID, eventlog.KindTaskStarted)
	require.NoError(t, err)
	require.Len(t, started, 2)
	require.Equal(t, int64(1), started[0].Seq)
	require.Equal(t, int64(2), started[1].Seq)
}

func TestClearIsolatesTests(t *testing.T) {
	ctx := context.Background()
	s := New()
	runID := ids.NewRunID()
	e0, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{})
	require.NoError(t, s.Append(ctx, e0))

	s.Clear()

	events, err := s.QueryByRun(ctx, runID)
	require.NoError(t, err)
	require.Empty(t, events)
}
