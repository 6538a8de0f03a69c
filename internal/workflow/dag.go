package workflow

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// DAGWorkflow is a named set of tasks plus dependency edges (by name). It
// must be acyclic and every dependency target must be a task member; both
// are checked by Validate before execution (spec §4.3).
type DAGWorkflow struct {
	Name        string
	Tasks       []TaskDef
	MaxParallel int
}

// DAGEngine runs DAGWorkflows with bounded parallelism, sharing one
// run-level seq counter across concurrently executing tasks (spec §4.3,
// §5: "events from parallel tasks share one run-level counter... guarded
// by a mutex"). Task goroutines are tracked by an errgroup.Group and a
// separate MaxParallel-sized semaphore bounds how many run at once,
// grounded on the indirect golang.org/x/sync dependency promoted to direct
// use for this engine.
type DAGEngine struct {
	Store eventlog.Store
}

// NewDAGEngine constructs a DAGEngine writing to store.
func NewDAGEngine(store eventlog.Store) *DAGEngine {
	return &DAGEngine{Store: store}
}

// Validate rejects wf if any declared dependency is not a task member, or
// if the dependency graph contains a cycle (Kahn's algorithm), per spec
// §4.3. The two failure modes are distinguished by TaskExecutionError.Reason.
func (wf DAGWorkflow) Validate() error {
	names := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		names[t.Name] = true
	}
	for _, t := range wf.Tasks {
		for _, d := range t.DependsOn {
			if !names[d] {
				return &TaskExecutionError{Reason: "unknown_dependency", FailedTask: t.Name}
			}
		}
	}

	indegree := make(map[string]int, len(wf.Tasks))
	dependents := make(map[string][]string, len(wf.Tasks))
	for _, t := range wf.Tasks {
		indegree[t.Name] = len(t.DependsOn)
		for _, d := range t.DependsOn {
			dependents[d] = append(dependents[d], t.Name)
		}
	}

	var queue []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		next := append([]string(nil), dependents[n]...)
		sort.Strings(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if visited != len(wf.Tasks) {
		return &TaskExecutionError{Reason: "cycle", FailedTask: wf.Name}
	}
	return nil
}

// TopologicalOrder returns a deterministic topological order of wf's task
// names: ties broken by lexicographic task name, so two calls over the
// same DAGWorkflow produce the same result (spec §4.3).
func (wf DAGWorkflow) TopologicalOrder() []string {
	indegree := make(map[string]int, len(wf.Tasks))
	dependents := make(map[string][]string, len(wf.Tasks))
	for _, t := range wf.Tasks {
		indegree[t.Name] = len(t.DependsOn)
		for _, d := range t.DependsOn {
			dependents[d] = append(dependents[d], t.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}

// dagRun holds the mutable state shared across one Run call's goroutines.
type dagRun struct {
	mu         sync.Mutex
	runtimes   map[string]*taskRuntime
	dependents map[string][]string
	submitted  map[string]bool
	failed     bool
	failedTask string

	runID ids.RunID
	seq   *eventlog.Counter
	store eventlog.Store
}

func (e *DAGEngine) emit(ctx context.Context, runID ids.RunID, counter *eventlog.Counter, kind eventlog.Kind, payload any) error {
	ev, err := eventlog.NewEvent(runID, counter.Next(), kind, payload)
	if err != nil {
		return err
	}
	return e.Store.Append(ctx, ev)
}

// Run validates and executes wf. Scheduling: every task with no dependencies
// is submitted immediately; when a task succeeds, each dependent whose
// remaining dependencies have all SUCCEEDED is submitted in turn, with at
// most MaxParallel tasks running at once (a counting semaphore; the
// errgroup.Group only tracks goroutines for Wait). On first
// task failure, no new tasks are submitted (submission simply never reaches
// tasks downstream of the failure); in-flight tasks are allowed to finish;
// then RunFinished carries outcome=FAILED with the first failed task and a
// *TaskExecutionError is returned (spec §4.3).
func (e *DAGEngine) Run(ctx context.Context, wf DAGWorkflow, runID ids.RunID) (ids.RunID, error) {
	return e.RunWithCounter(ctx, wf, runID, eventlog.NewCounter())
}

// RunWithCounter is Run, but shares counter with the caller instead of
// allocating a fresh one, for callers whose own components — a
// governance.Budget, say — must emit events interleaved with the DAG's own
// RunStarted/TaskStarted/... sequence under the same runID. The session
// orchestrator calls Run instead: its governance objects emit under the
// session's own run.
func (e *DAGEngine) RunWithCounter(ctx context.Context, wf DAGWorkflow, runID ids.RunID, counter *eventlog.Counter) (ids.RunID, error) {
	if runID == "" {
		runID = ids.NewRunID()
	}
	if err := wf.Validate(); err != nil {
		return runID, err
	}
	maxParallel := wf.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	if err := e.emit(ctx, runID, counter, eventlog.KindRunStarted, runStartedPayload{Workflow: wf.Name}); err != nil {
		return runID, err
	}

	defs := make(map[string]TaskDef, len(wf.Tasks))
	dr := &dagRun{
		runtimes:   make(map[string]*taskRuntime, len(wf.Tasks)),
		dependents: make(map[string][]string, len(wf.Tasks)),
		submitted:  make(map[string]bool, len(wf.Tasks)),
		runID:      runID,
		seq:        counter,
		store:      e.Store,
	}
	for _, t := range wf.Tasks {
		defs[t.Name] = t
		dr.runtimes[t.Name] = newTaskRuntime(t)
		for _, d := range t.DependsOn {
			dr.dependents[d] = append(dr.dependents[d], t.Name)
		}
	}

	// sem bounds how many runOne calls are in flight at once. It is
	// acquired/released independently of the errgroup, which here only
	// tracks goroutine lifetimes for Wait: recursively launching a new
	// g.Go from inside a running one would deadlock if g itself enforced
	// the limit (the parent's slot isn't freed until its func returns,
	// which is exactly when it is recursing to submit dependents).
	sem := make(chan struct{}, maxParallel)
	g, gctx := errgroup.WithContext(ctx)

	var submit func(name string)
	submit = func(name string) {
		g.Go(func() error {
			sem <- struct{}{}
			e.runOne(gctx, dr, defs[name], dr.runtimes[name])
			<-sem

			dr.mu.Lock()
			deps := append([]string(nil), dr.dependents[name]...)
			failed := dr.failed
			dr.mu.Unlock()
			if failed {
				return nil
			}
			sort.Strings(deps)
			for _, next := range deps {
				if e.readyLocked(dr, defs[next]) {
					submit(next)
				}
			}
			return nil
		})
	}

	var roots []string
	for _, t := range wf.Tasks {
		if len(t.DependsOn) == 0 {
			roots = append(roots, t.Name)
		}
	}
	sort.Strings(roots)
	for _, r := range roots {
		dr.mu.Lock()
		dr.submitted[r] = true
		dr.mu.Unlock()
		submit(r)
	}

	_ = g.Wait()

	dr.mu.Lock()
	isFailed := dr.failed
	first := dr.failedTask
	dr.mu.Unlock()

	if isFailed {
		if err := e.emit(ctx, runID, counter, eventlog.KindRunFinished, runFinishedPayload{
			Outcome:    "FAILED",
			FailedTask: first,
		}); err != nil {
			return runID, err
		}
		return runID, &TaskExecutionError{Reason: "task_failed", FailedTask: first}
	}

	if err := e.emit(ctx, runID, counter, eventlog.KindRunFinished, runFinishedPayload{Outcome: "SUCCEEDED"}); err != nil {
		return runID, err
	}
	return runID, nil
}

// readyLocked reports whether name's dependencies have all succeeded and it
// has not yet been submitted, marking it submitted if so (so two parents
// finishing concurrently never double-submit the same dependent).
func (e *DAGEngine) readyLocked(dr *dagRun, def TaskDef) bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.submitted[def.Name] {
		return false
	}
	for _, d := range def.DependsOn {
		s, _, _ := dr.runtimes[d].snapshot()
		if s != StateSucceeded {
			return false
		}
	}
	dr.submitted[def.Name] = true
	return true
}

func (e *DAGEngine) runOne(ctx context.Context, dr *dagRun, def TaskDef, rt *taskRuntime) {
	rt.setState(StateRunning)

	if err := e.emit(ctx, dr.runID, dr.seq, eventlog.KindTaskStarted, taskStartedPayload{TaskName: def.Name}); err != nil {
		rt.finish(nil, err)
		e.recordFailure(dr, def.Name)
		return
	}

	deps := make(map[string]any, len(def.DependsOn))
	for _, d := range def.DependsOn {
		_, res, _ := dr.runtimes[d].snapshot()
		deps[d] = res
	}
	result, err := def.Run(ctx, deps)
	rt.finish(result, err)

	state, _, taskErr := rt.snapshot()
	finPayload := taskFinishedPayload{TaskName: def.Name, State: state}
	if taskErr != nil {
		finPayload.Error = taskErr.Error()
	}
	_ = e.emit(ctx, dr.runID, dr.seq, eventlog.KindTaskFinished, finPayload)

	if err != nil {
		e.recordFailure(dr, def.Name)
	}
}

func (e *DAGEngine) recordFailure(dr *dagRun, name string) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if !dr.failed {
		dr.failed = true
		dr.failedTask = name
	}
}
