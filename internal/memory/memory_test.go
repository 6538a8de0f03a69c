package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/ids"
)

func TestEpisodic_SummarizeSuccess(t *testing.T) {
	store := memstore.New()
	runID := ids.NewRunID()
	counter := eventlog.NewCounter()

	appendEvent := func(kind eventlog.Kind, payload any) {
		ev, err := eventlog.NewEvent(runID, counter.Next(), kind, payload)
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), ev))
	}

	appendEvent(eventlog.KindRunStarted, runStartedPayload{Workflow: "wf"})
	appendEvent(eventlog.KindTaskStarted, taskStartedPayload{TaskName: "T1"})
	appendEvent(eventlog.KindToolCallStarted, struct{}{})
	appendEvent(eventlog.KindTaskFinished, taskFinishedPayload{TaskName: "T1", State: "SUCCEEDED"})
	appendEvent(eventlog.KindRunFinished, runFinishedPayload{Outcome: "SUCCEEDED"})

	ep := NewEpisodic(store)
	summary, err := ep.Summarize(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, "wf", summary.Workflow)
	require.Equal(t, "SUCCEEDED", summary.Outcome)
	require.Equal(t, []string{"T1"}, summary.StartedTasks)
	require.Equal(t, []string{"T1"}, summary.SucceededTasks)
	require.Equal(t, 1, summary.ToolCallCount)
	require.Equal(t, 5, summary.EventCount)

	ep.Invalidate(runID)
	summary2, err := ep.Summarize(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, summary, summary2)
}

func TestSemantic_AddDetectsConflict(t *testing.T) {
	sem := NewSemantic()
	sem.Add(Fact{Key: "acc", Value: 0.9, Confidence: 0.8, Provenance: Provenance{RunID: "run1"}})
	sem.Add(Fact{Key: "acc", Value: 0.95, Confidence: 0.9, Provenance: Provenance{RunID: "run2"}})

	latest, ok := sem.Get("acc")
	require.True(t, ok)
	require.Equal(t, 0.95, latest.Value)

	conflicts := sem.GetConflicts()
	require.Len(t, conflicts, 1)
	require.Equal(t, 0.9, conflicts[0].FactA.Value)
	require.Equal(t, 0.95, conflicts[0].FactB.Value)
}

func TestSemantic_QueryByPrefixAndRun(t *testing.T) {
	sem := NewSemantic()
	sem.Add(Fact{Key: "user.name", Value: "ada", Provenance: Provenance{RunID: "run1"}})
	sem.Add(Fact{Key: "user.age", Value: int64(30), Provenance: Provenance{RunID: "run1"}})
	sem.Add(Fact{Key: "other.x", Value: "z", Provenance: Provenance{RunID: "run2"}})

	prefixed := sem.QueryByPrefix("user.")
	require.Len(t, prefixed, 2)

	byRun := sem.QueryByRun("run1")
	require.Len(t, byRun, 2)
}

func TestSemantic_ResolveConflict(t *testing.T) {
	sem := NewSemantic()
	sem.Add(Fact{Key: "k", Value: "a"})
	sem.Add(Fact{Key: "k", Value: "b"})
	require.True(t, sem.ResolveConflict(0, "took latest"))
	require.False(t, sem.ResolveConflict(5, "no such conflict"))
	require.True(t, sem.GetConflicts()[0].Resolved)
}

func TestSemantic_ContextPack_FreshnessAndConfidence(t *testing.T) {
	sem := NewSemantic()
	now := time.Now()
	sem.Add(Fact{Key: "k", Value: "a", Confidence: 1.0, Provenance: Provenance{Timestamp: now.Add(-5 * time.Minute)}})
	sem.Add(Fact{Key: "k", Value: "b", Confidence: 1.0, Provenance: Provenance{Timestamp: now}})

	claims := sem.ContextPack([]string{"k", "missing"}, now, 10*time.Minute)
	require.Len(t, claims, 2)

	kClaim := claims[0]
	require.Equal(t, "b", kClaim.Value)
	require.InDelta(t, 1.0, kClaim.FreshnessScore, 0.01)
	require.Len(t, kClaim.Evidence, 2)
	require.Less(t, kClaim.Confidence, 1.0) // one unresolved conflict docks 0.1

	missingClaim := claims[1]
	require.Nil(t, missingClaim.Value)
	require.Equal(t, 0.0, missingClaim.Confidence)
}
