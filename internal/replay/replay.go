// Package replay implements the kernel's deterministic replay engine (spec
// §4.11): strict reconstruction of a run's event sequence, optional
// re-execution of side-effect-free tool calls, and structural comparison
// between two runs.
package replay

import (
	"context"
	"fmt"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
)

// ToolExecutor re-invokes a tool by name with the originally recorded
// input, for re-execution of PURE tool calls during Reexecute. Callers
// supply a single dispatcher covering every tool the replayed run used;
// the kernel itself never re-registers a live tool.Registry for replay.
type ToolExecutor func(ctx context.Context, toolName string, input map[string]any) (map[string]any, error)

// Result is the outcome of a Strict or Reexecute replay.
type Result struct {
	RunID ids.RunID
	// Events is the full event sequence, ordered by Seq, exactly as stored.
	Events []eventlog.Event
	// Outputs maps each ToolCallFinished event's Seq to its payload. In
	// Reexecute mode, entries for re-executed PURE calls carry the
	// freshly produced output with Reexecuted=true.
	Outputs map[int64]ToolOutput
	// Success reflects the terminal RunFinished's outcome, per spec §4.11
	// ("success is determined by the presence and payload of the terminal
	// RunFinished").
	Success bool
}

// ToolOutput is the (possibly overridden) payload recorded for one
// ToolCallFinished event.
type ToolOutput struct {
	Success    bool           `json:"success"`
	OutputHash string         `json:"output_hash,omitempty"`
	Error      string         `json:"error,omitempty"`
	Output     map[string]any `json:"-"`
	Reexecuted bool           `json:"reexecuted,omitempty"`
}

type toolCallStartedPayload struct {
	ToolName   string         `json:"tool_name"`
	InputHash  string         `json:"input_hash"`
	SideEffect string         `json:"side_effect,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

type toolCallFinishedPayload struct {
	Success    bool   `json:"success"`
	OutputHash string `json:"output_hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

type runFinishedPayload struct {
	Outcome string `json:"outcome"`
}

// Strict replays runID by returning its stored event sequence verbatim,
// plus a seq->payload mapping for every ToolCallFinished event, and the
// terminal RunFinished's success. No tool is re-invoked (spec §4.11
// "strict mode").
func Strict(ctx context.Context, store eventlog.Store, runID ids.RunID) (Result, error) {
	events, err := store.QueryByRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	outputs := make(map[int64]ToolOutput)
	success := false
	for _, e := range events {
		switch e.Kind {
		case eventlog.KindToolCallFinished:
			var p toolCallFinishedPayload
			if err := e.Decode(&p); err != nil {
				return Result{}, fmt.Errorf("replay: decode ToolCallFinished at seq %d: %w", e.Seq, err)
			}
			outputs[e.Seq] = ToolOutput{Success: p.Success, OutputHash: p.OutputHash, Error: p.Error}
		case eventlog.KindRunFinished, eventlog.KindSessionFinished:
			var p runFinishedPayload
			if err := e.Decode(&p); err != nil {
				return Result{}, fmt.Errorf("replay: decode terminal event at seq %d: %w", e.Seq, err)
			}
			success = p.Outcome == "SUCCEEDED"
		}
	}
	return Result{RunID: runID, Events: events, Outputs: outputs, Success: success}, nil
}

// Reexecute replays runID like Strict, but for every ToolCallStarted whose
// payload declares side_effect="PURE", it invokes exec with the recorded
// input and overlays the returned output onto the corresponding
// ToolCallFinished entry, tagged Reexecuted=true (spec §4.11 "re-execute
// mode"). A re-execution failure aborts the replay.
//
// ToolCallStarted and ToolCallFinished events are paired by position: the
// Nth ToolCallStarted in the sequence corresponds to the Nth
// ToolCallFinished (spec §8's invariant that every ToolCallStarted has
// exactly one matching ToolCallFinished at a strictly greater seq).
func Reexecute(ctx context.Context, store eventlog.Store, runID ids.RunID, exec ToolExecutor) (Result, error) {
	result, err := Strict(ctx, store, runID)
	if err != nil {
		return Result{}, err
	}

	var pendingStarts []toolCallStartedPayload
	var pendingSeqs []int64
	for _, e := range result.Events {
		if e.Kind == eventlog.KindToolCallStarted {
			var p toolCallStartedPayload
			if err := e.Decode(&p); err != nil {
				return Result{}, fmt.Errorf("replay: decode ToolCallStarted at seq %d: %w", e.Seq, err)
			}
			pendingStarts = append(pendingStarts, p)
			pendingSeqs = append(pendingSeqs, e.Seq)
			continue
		}
		if e.Kind != eventlog.KindToolCallFinished {
			continue
		}
		if len(pendingStarts) == 0 {
			continue
		}
		start := pendingStarts[0]
		startSeq := pendingSeqs[0]
		pendingStarts = pendingStarts[1:]
		pendingSeqs = pendingSeqs[1:]

		if start.SideEffect != "PURE" {
			continue
		}
		out, rerr := exec(ctx, start.ToolName, start.Input)
		if rerr != nil {
			return Result{}, fmt.Errorf("replay: re-execute %q (started at seq %d): %w", start.ToolName, startSeq, rerr)
		}
		prev := result.Outputs[e.Seq]
		result.Outputs[e.Seq] = ToolOutput{
			Success:    true,
			Output:     out,
			Reexecuted: true,
			OutputHash: prev.OutputHash,
		}
	}
	return result, nil
}

// Comparison is the output of CompareRuns: per-run event counts and whether
// the two kind sequences are element-wise equal.
type Comparison struct {
	CountA        int
	CountB        int
	SameStructure bool
}

// CompareRuns reports structural equality between two runs' event kind
// sequences (spec §4.11 "compare_runs").
func CompareRuns(ctx context.Context, store eventlog.Store, a, b ids.RunID) (Comparison, error) {
	eventsA, err := store.QueryByRun(ctx, a)
	if err != nil {
		return Comparison{}, err
	}
	eventsB, err := store.QueryByRun(ctx, b)
	if err != nil {
		return Comparison{}, err
	}

	same := len(eventsA) == len(eventsB)
	if same {
		for i := range eventsA {
			if eventsA[i].Kind != eventsB[i].Kind {
				same = false
				break
			}
		}
	}
	return Comparison{CountA: len(eventsA), CountB: len(eventsB), SameStructure: same}, nil
}
