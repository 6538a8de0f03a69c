// Package workflow implements the kernel's two deterministic task
// executors: a linear engine for declared-order task sequences and a DAG
// engine for dependency graphs with bounded parallelism. Both emit the same
// canonical event shape through a shared run-wide eventlog.Counter.
package workflow

import (
	"context"
	"sync"

	"github.com/flowkernel/agentkernel/internal/ids"
)

// State is a Task's lifecycle state. Both engines move a task
// PENDING -> RUNNING -> {SUCCEEDED, FAILED}; READY and SKIPPED are defined
// but neither engine assigns them, and a task that never runs (because an
// earlier or upstream task failed) stays PENDING. Once terminal
// (SUCCEEDED, FAILED) a Task never transitions again.
type State string

const (
	StatePending   State = "PENDING"
	StateReady     State = "READY"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateSkipped   State = "SKIPPED"
)

// Callable is a unit of work a Task invokes. It receives the outputs of its
// already-completed dependencies, keyed by task name, and returns an opaque
// result or an error.
type Callable func(ctx context.Context, deps map[string]any) (any, error)

// TaskDef declares one task in a workflow: its name, dependencies (by name),
// and the callable to invoke once every dependency has succeeded.
type TaskDef struct {
	Name    string
	DependsOn []string
	Run     Callable
}

// taskRuntime is the mutable execution record for one TaskDef within a run.
type taskRuntime struct {
	mu     sync.Mutex
	def    TaskDef
	state  State
	result any
	err    error
}

func newTaskRuntime(def TaskDef) *taskRuntime {
	return &taskRuntime{def: def, state: StatePending}
}

func (t *taskRuntime) snapshot() (State, any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.result, t.err
}

func (t *taskRuntime) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *taskRuntime) finish(result any, err error) {
	t.mu.Lock()
	if err != nil {
		t.state = StateFailed
		t.err = err
	} else {
		t.state = StateSucceeded
		t.result = result
	}
	t.mu.Unlock()
}

// TaskExecutionError is raised by both engines when validation fails before
// execution starts, or when a task fails during execution.
type TaskExecutionError struct {
	// Reason is a short machine-checkable category: "unknown_dependency",
	// "cycle", or "task_failed".
	Reason     string
	FailedTask string
	Cause      error
}

func (e *TaskExecutionError) Error() string {
	if e.Cause != nil {
		return "workflow: " + e.Reason + ": " + e.FailedTask + ": " + e.Cause.Error()
	}
	return "workflow: " + e.Reason + ": " + e.FailedTask
}

func (e *TaskExecutionError) Unwrap() error { return e.Cause }

// ids.RunID is re-exported here only in doc comments; engines accept it by
// value from callers (typically generated with ids.NewRunID()).
var _ = ids.RunID("")
