// Package memory implements the kernel's two memory derivations from the
// event log (spec §4.12-4.13): episodic run summaries and a semantic fact
// store with conflict detection.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// Summary is a derived description of one run, built entirely from its
// event sequence (spec §4.12).
type Summary struct {
	RunID         ids.RunID
	Workflow      string
	Outcome       string
	StartedAt     time.Time
	FinishedAt    time.Time
	EventCount    int
	StartedTasks  []string
	SucceededTasks []string
	FailedTasks   []string
	ToolCallCount int
	FirstFailedTask string
}

// Episodic derives and memoizes run Summaries from an eventlog.Store.
type Episodic struct {
	store eventlog.Store

	mu    sync.Mutex
	cache map[ids.RunID]Summary
}

// NewEpisodic constructs an Episodic memory reader over store.
func NewEpisodic(store eventlog.Store) *Episodic {
	return &Episodic{store: store, cache: make(map[ids.RunID]Summary)}
}

type runStartedPayload struct {
	Workflow string `json:"workflow"`
}

type taskStartedPayload struct {
	TaskName string `json:"task_name"`
}

type taskFinishedPayload struct {
	TaskName string `json:"task_name"`
	State    string `json:"state"`
}

type runFinishedPayload struct {
	Outcome    string `json:"outcome"`
	FailedTask string `json:"failed_task,omitempty"`
}

// Summarize returns the memoized Summary for runID, deriving it from the
// event log on first access.
func (e *Episodic) Summarize(ctx context.Context, runID ids.RunID) (Summary, error) {
	e.mu.Lock()
	if s, ok := e.cache[runID]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	events, err := e.store.QueryByRun(ctx, runID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{RunID: runID}
	startedSeen := make(map[string]bool)

	for _, ev := range events {
		summary.EventCount++
		switch ev.Kind {
		case eventlog.KindRunStarted:
			var p runStartedPayload
			if err := ev.Decode(&p); err == nil {
				summary.Workflow = p.Workflow
			}
			summary.StartedAt = ev.Timestamp
		case eventlog.KindTaskStarted:
			var p taskStartedPayload
			if err := ev.Decode(&p); err == nil && !startedSeen[p.TaskName] {
				startedSeen[p.TaskName] = true
				summary.StartedTasks = append(summary.StartedTasks, p.TaskName)
			}
		case eventlog.KindTaskFinished:
			var p taskFinishedPayload
			if err := ev.Decode(&p); err == nil {
				if p.State == "SUCCEEDED" {
					summary.SucceededTasks = append(summary.SucceededTasks, p.TaskName)
				} else if p.State == "FAILED" {
					summary.FailedTasks = append(summary.FailedTasks, p.TaskName)
					if summary.FirstFailedTask == "" {
						summary.FirstFailedTask = p.TaskName
					}
				}
			}
		case eventlog.KindToolCallStarted:
			summary.ToolCallCount++
		case eventlog.KindRunFinished, eventlog.KindSessionFinished:
			var p runFinishedPayload
			if err := ev.Decode(&p); err == nil {
				summary.Outcome = p.Outcome
				if summary.FirstFailedTask == "" {
					summary.FirstFailedTask = p.FailedTask
				}
			}
			summary.FinishedAt = ev.Timestamp
		}
	}

	e.mu.Lock()
	e.cache[runID] = summary
	e.mu.Unlock()
	return summary, nil
}

// Invalidate purges the memoized Summary for runID, forcing the next
// Summarize call to re-derive it from the log.
func (e *Episodic) Invalidate(runID ids.RunID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, runID)
}
