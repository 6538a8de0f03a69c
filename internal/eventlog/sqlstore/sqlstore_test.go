package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func TestAppendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := Open(path)
	require.NoError(t, err)

	runID := ids.NewRunID()
	e0, err := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{"workflow": "wf"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, e0))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.QueryByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, eventlog.KindRunStarted, events[0].Kind)
}

func TestDuplicateSeqRejected(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer s.Close()

	runID := ids.NewRunID()
	e0, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{})
	require.NoError(t, s.Append(ctx, e0))

	dup, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunFinished, map[string]any{})
	err = s.Append(ctx, dup)
	require.ErrorIs(t, err, eventlog.ErrDuplicateSeq)
}

func TestQueryByKindFilters(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer s.Close()

	runID := ids.NewRunID()
	e0, _ := eventlog.NewEvent(runID, 0, eventlog.KindRunStarted, map[string]any{})
	e1, _ := eventlog.NewEvent(runID, 1, eventlog.KindTaskStarted, map[string]any{})
	e2, _ := eventlog.NewEvent(runID, 2, eventlog.KindTaskFinished, map[string]any{})
	require.NoError(t, s.Append(ctx, e0))
	require.NoError(t, s.Append(ctx, e1))
	require.NoError(t, s.Append(ctx, e2))

	task, err := s.QueryByKind(ctx, runID, eventlog.KindTaskStarted)
	require.NoError(t, err)
	require.Len(t, task, 1)
}
