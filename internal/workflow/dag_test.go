package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
)

func TestDAGEngine_Diamond(t *testing.T) {
	store := memstore.New()
	engine := NewDAGEngine(store)

	var mu sync.Mutex
	var bStarted, cStarted, bFinished, cFinished time.Time

	wf := DAGWorkflow{
		Name:        "diamond",
		MaxParallel: 3,
		Tasks: []TaskDef{
			{Name: "A", Run: func(context.Context, map[string]any) (any, error) { return "a", nil }},
			{Name: "B", DependsOn: []string{"A"}, Run: func(context.Context, map[string]any) (any, error) {
				mu.Lock()
				bStarted = time.Now()
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				mu.Lock()
				bFinished = time.Now()
				mu.Unlock()
				return "b", nil
			}},
			{Name: "C", DependsOn: []string{"A"}, Run: func(context.Context, map[string]any) (any, error) {
				mu.Lock()
				cStarted = time.Now()
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				mu.Lock()
				cFinished = time.Now()
				mu.Unlock()
				return "c", nil
			}},
			{Name: "D", DependsOn: []string{"B", "C"}, Run: func(context.Context, map[string]any) (any, error) { return "d", nil }},
		},
	}

	start := time.Now()
	runID, err := engine.Run(context.Background(), wf, "")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 190*time.Millisecond)

	mu.Lock()
	require.True(t, bStarted.Before(cFinished))
	require.True(t, cStarted.Before(bFinished))
	mu.Unlock()

	events, err := store.QueryByRun(context.Background(), runID)
	require.NoError(t, err)
	require.NoError(t, eventlog.ValidateDenseSeq(events))
}

func TestDAGEngine_RejectsUnknownDependency(t *testing.T) {
	wf := DAGWorkflow{Tasks: []TaskDef{
		{Name: "A", DependsOn: []string{"ghost"}},
	}}
	err := wf.Validate()
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "unknown_dependency", taskErr.Reason)
}

func TestDAGEngine_RejectsCycle(t *testing.T) {
	wf := DAGWorkflow{Tasks: []TaskDef{
		{Name: "A", DependsOn: []string{"B"}},
		{Name: "B", DependsOn: []string{"A"}},
	}}
	err := wf.Validate()
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "cycle", taskErr.Reason)
}

func TestDAGEngine_FirstFailureTerminal(t *testing.T) {
	store := memstore.New()
	engine := NewDAGEngine(store)
	boom := errors.New("boom")

	wf := DAGWorkflow{
		Name:        "wf",
		MaxParallel: 2,
		Tasks: []TaskDef{
			{Name: "A", Run: func(context.Context, map[string]any) (any, error) { return nil, boom }},
			{Name: "B", DependsOn: []string{"A"}, Run: func(context.Context, map[string]any) (any, error) { return nil, nil }},
		},
	}

	runID, err := engine.Run(context.Background(), wf, "")
	require.Error(t, err)
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "A", taskErr.FailedTask)

	events, err := store.QueryByRun(context.Background(), runID)
	require.NoError(t, err)
	var fin runFinishedPayload
	require.NoError(t, events[len(events)-1].Decode(&fin))
	require.Equal(t, "FAILED", fin.Outcome)
}

func TestDAGWorkflow_TopologicalOrderDeterministic(t *testing.T) {
	wf := DAGWorkflow{Tasks: []TaskDef{
		{Name: "D", DependsOn: []string{"B", "C"}},
		{Name: "C", DependsOn: []string{"A"}},
		{Name: "B", DependsOn: []string{"A"}},
		{Name: "A"},
	}}
	first := wf.TopologicalOrder()
	second := wf.TopologicalOrder()
	require.Equal(t, first, second)
	require.Equal(t, []string{"A", "B", "C", "D"}, first)
}
