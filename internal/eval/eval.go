// Package eval implements the kernel's eval harness (spec §2 component L,
// detailed in SPEC_FULL.md §4.15): cases grouped into suites, run by a
// Runner that aggregates pass rate, mean duration, and — for cases whose
// target drives a tool-calling agent run — mean ToolCallStarted count read
// back from the event log.
package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// Target drives one case's unit of work, returning an opaque result plus
// the RunID it executed under (zero value if the case didn't produce a
// kernel run, e.g. a pure function case).
type Target func(ctx context.Context, input any) (result any, runID ids.RunID, err error)

// Want asserts on a case's result. A non-nil return fails the case.
type Want func(result any) error

// Case is a single eval case: an input, the target that consumes it, and
// the assertion run against the result.
type Case struct {
	Name  string
	Input any
	Want  Want
}

// Suite is a named group of Cases sharing one Target.
type Suite struct {
	Name   string
	Cases  []Case
	Target Target
}

// CaseReport is one Case's outcome.
type CaseReport struct {
	Name     string
	Passed   bool
	Error    string
	Duration time.Duration
	RunID    ids.RunID
}

// SuiteReport aggregates a Suite run.
type SuiteReport struct {
	Suite    string
	Total    int
	Passed   int
	Failed   int
	Duration time.Duration
	Cases    []CaseReport

	// PassRate is Passed/Total (0 when Total is 0).
	PassRate float64
	// MeanDuration is Duration/Total (0 when Total is 0).
	MeanDuration time.Duration
	// MeanToolCalls is the mean ToolCallStarted count across every case
	// that produced a non-empty RunID, read back from the event log
	// (spec's "mean tool-call count" aggregation).
	MeanToolCalls float64
}

// Runner executes Suites against an eventlog.Store, used to recover the
// tool-call-count aggregate for cases that drove a kernel run.
type Runner struct {
	Store eventlog.Store
}

// NewRunner constructs a Runner reading tool-call counts from store. store
// may be nil if no case in any Suite run through it produces a RunID.
func NewRunner(store eventlog.Store) *Runner {
	return &Runner{Store: store}
}

// Run executes every Case in suite in declared order and returns the
// aggregated SuiteReport.
func (r *Runner) Run(ctx context.Context, suite Suite) (SuiteReport, error) {
	report := SuiteReport{Suite: suite.Name, Total: len(suite.Cases)}

	var toolCallCounts []int
	start := time.Now()
	for _, c := range suite.Cases {
		caseStart := time.Now()
		result, runID, err := suite.Target(ctx, c.Input)
		if err == nil && c.Want != nil {
			err = c.Want(result)
		}
		duration := time.Since(caseStart)

		cr := CaseReport{Name: c.Name, Duration: duration, RunID: runID}
		if err != nil {
			cr.Error = err.Error()
			report.Failed++
		} else {
			cr.Passed = true
			report.Passed++
		}
		report.Cases = append(report.Cases, cr)

		if runID != "" && r.Store != nil {
			n, cerr := r.countToolCalls(ctx, runID)
			if cerr == nil {
				toolCallCounts = append(toolCallCounts, n)
			}
		}
	}
	report.Duration = time.Since(start)

	if report.Total > 0 {
		report.PassRate = float64(report.Passed) / float64(report.Total)
		report.MeanDuration = report.Duration / time.Duration(report.Total)
	}
	if len(toolCallCounts) > 0 {
		var sum int
		for _, n := range toolCallCounts {
			sum += n
		}
		report.MeanToolCalls = float64(sum) / float64(len(toolCallCounts))
	}
	return report, nil
}

func (r *Runner) countToolCalls(ctx context.Context, runID ids.RunID) (int, error) {
	events, err := r.Store.QueryByKind(ctx, runID, eventlog.KindToolCallStarted)
	if err != nil {
		return 0, fmt.Errorf("eval: count tool calls for %s: %w", runID, err)
	}
	return len(events), nil
}
