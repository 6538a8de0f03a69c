package workflow

import (
	"context"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// LinearWorkflow declares a sequential task list under a name. Tasks run in
// declared order; any failure terminates the run.
type LinearWorkflow struct {
	Name  string
	Tasks []TaskDef
}

// LinearEngine runs LinearWorkflows, emitting the canonical
// RunStarted -> (TaskStarted -> TaskFinished)+ -> RunFinished sequence
// (spec §4.2) through one eventlog.Counter per Run call and a Store.
type LinearEngine struct {
	Store eventlog.Store
}

// NewLinearEngine constructs a LinearEngine writing to store.
func NewLinearEngine(store eventlog.Store) *LinearEngine {
	return &LinearEngine{Store: store}
}

type runStartedPayload struct {
	Workflow string `json:"workflow"`
}

type taskStartedPayload struct {
	TaskName string `json:"task_name"`
}

type taskFinishedPayload struct {
	TaskName string `json:"task_name"`
	State    State  `json:"state"`
	Error    string `json:"error,omitempty"`
}

type runFinishedPayload struct {
	Outcome    string `json:"outcome"`
	FailedTask string `json:"failed_task,omitempty"`
}

// Run executes wf's tasks in declared order on a new (or supplied) run,
// returning the run's RunID. Any task callable that returns an error
// terminates the run: the failing task transitions to FAILED, its
// TaskFinished carries state=FAILED, RunFinished carries outcome=FAILED
// with failed_task, and a
// *TaskExecutionError is returned. Remaining tasks stay PENDING.
func (e *LinearEngine) Run(ctx context.Context, wf LinearWorkflow, runID ids.RunID) (ids.RunID, error) {
	if runID == "" {
		runID = ids.NewRunID()
	}
	counter := eventlog.NewCounter()

	if err := e.emit(ctx, runID, counter, eventlog.KindRunStarted, runStartedPayload{Workflow: wf.Name}); err != nil {
		return runID, err
	}

	results := make(map[string]any, len(wf.Tasks))
	for _, def := range wf.Tasks {
		rt := newTaskRuntime(def)
		rt.setState(StateRunning)

		if err := e.emit(ctx, runID, counter, eventlog.KindTaskStarted, taskStartedPayload{TaskName: def.Name}); err != nil {
			return runID, err
		}

		deps := make(map[string]any, len(def.DependsOn))
		for _, d := range def.DependsOn {
			deps[d] = results[d]
		}
		result, err := def.Run(ctx, deps)
		rt.finish(result, err)

		state, _, taskErr := rt.snapshot()
		finPayload := taskFinishedPayload{TaskName: def.Name, State: state}
		if taskErr != nil {
			finPayload.Error = taskErr.Error()
		}
		if emitErr := e.emit(ctx, runID, counter, eventlog.KindTaskFinished, finPayload); emitErr != nil {
			return runID, emitErr
		}

		if err != nil {
			if emitErr := e.emit(ctx, runID, counter, eventlog.KindRunFinished, runFinishedPayload{
				Outcome:    "FAILED",
				FailedTask: def.Name,
			}); emitErr != nil {
				return runID, emitErr
			}
			return runID, &TaskExecutionError{Reason: "task_failed", FailedTask: def.Name, Cause: err}
		}
		results[def.Name] = result
	}

	if err := e.emit(ctx, runID, counter, eventlog.KindRunFinished, runFinishedPayload{Outcome: "SUCCEEDED"}); err != nil {
		return runID, err
	}
	return runID, nil
}

func (e *LinearEngine) emit(ctx context.Context, runID ids.RunID, counter *eventlog.Counter, kind eventlog.Kind, payload any) error {
	ev, err := eventlog.NewEvent(runID, counter.Next(), kind, payload)
	if err != nil {
		return err
	}
	return e.Store.Append(ctx, ev)
}
