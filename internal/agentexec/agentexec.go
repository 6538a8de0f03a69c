// Package agentexec implements the tool-calling agent executor (spec
// §4.10): a step loop in which the driving model emits a single JSON action
// object per turn, either invoking a registered tool or finishing the run.
package agentexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/governance"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/llm"
	"github.com/flowkernel/agentkernel/internal/tool"
)

// Outcome is the terminal disposition of an agent-executor run (spec §4.10).
type Outcome string

const (
	OutcomeSucceeded      Outcome = "SUCCEEDED"
	OutcomeMaxSteps       Outcome = "MAX_STEPS"
	OutcomeBudgetExceeded Outcome = "BUDGET_EXCEEDED"
	OutcomeStopped        Outcome = "STOPPED"
	OutcomeTooManyErrors  Outcome = "TOO_MANY_ERRORS"
	OutcomeFailed         Outcome = "FAILED"
)

// Result labels (spec §4.10), used only in AgentStepFinished payloads for
// observability.
const (
	LabelFinish           = "finish"
	LabelToolSuccess      = "tool_success"
	LabelToolError        = "tool_error"
	LabelParseError       = "parse_error"
	LabelUnknownTool      = "unknown_tool"
	LabelPermissionDenied = "permission_denied"
	LabelValidationError  = "validation_error"
	LabelAcceptanceFailed = "acceptance_failed"
)

// AcceptanceCriterion validates a proposed finish result. A non-nil error's
// message is surfaced verbatim in the feedback message appended to history.
type AcceptanceCriterion func(ctx context.Context, result string, runID ids.RunID) error

// Options configures an Executor run.
type Options struct {
	RunID               ids.RunID
	AgentName           string
	Store               eventlog.Store
	Budget              *governance.Budget
	StopConditions      *governance.StopConditions
	Permissions         *governance.Permissions
	Concurrency         *governance.Concurrency
	Tools               *tool.Registry
	Provider            llm.Provider
	SystemPrompt        string
	MaxSteps            int
	MaxConsecutiveErrors int
	AcceptanceCriteria  []AcceptanceCriterion
}

// Result is what Executor.Run returns.
type Result struct {
	Outcome Outcome
	Result  string
	Err     error
}

// Executor drives the per-step loop described in spec §4.10.
type Executor struct {
	opts    Options
	seq     *eventlog.Counter
	history []llm.Message
}

// NewExecutor constructs an Executor. seq is shared with every other
// component emitting events for the same run.
func NewExecutor(opts Options, seq *eventlog.Counter) *Executor {
	ex := &Executor{opts: opts, seq: seq}
	if opts.SystemPrompt != "" {
		ex.history = append(ex.history, llm.Message{Role: llm.RoleSystem, Content: opts.SystemPrompt})
	}
	return ex
}

// action is the JSON envelope the driving model must return each step.
type action struct {
	Action    string         `json:"action"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Result    string         `json:"result,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

type runStartedPayload struct {
	Agent string `json:"agent"`
}

type runFinishedPayload struct {
	Outcome string `json:"outcome"`
	Result  string `json:"result,omitempty"`
}

type agentStepStartedPayload struct {
	Step int `json:"step"`
}

type agentStepFinishedPayload struct {
	Step        int    `json:"step"`
	ResultLabel string `json:"result_label"`
}

type lmCallStartedPayload struct {
	Step int `json:"step"`
}

type lmCallFinishedPayload struct {
	TokensUsed       int64 `json:"tokens_used"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type toolCallStartedPayload struct {
	ToolName   tool.ID         `json:"tool_name"`
	InputHash  string          `json:"input_hash"`
	SideEffect tool.SideEffect `json:"side_effect"`
	Input      map[string]any  `json:"input,omitempty"`
}

type toolCallFinishedPayload struct {
	Success    bool   `json:"success"`
	OutputHash string `json:"output_hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Run executes steps until finish, MAX_STEPS, a stop condition, budget
// exhaustion, or TOO_MANY_ERRORS.
func (e *Executor) Run(ctx context.Context) Result {
	if err := e.emit(ctx, eventlog.KindRunStarted, runStartedPayload{Agent: e.opts.AgentName}); err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	// consecutiveParseErrors counts only malformed-response failures (spec
	// §4.10: "a consecutive-parse-error counter"), reset on a successful
	// parse. Tool-call failures are tracked separately by
	// governance.StopConditions.RecordStepOutcome and never touch this
	// counter, matching the reference runtime's agent_runner.py, where
	// consecutive_errors is only ever touched inside the parse-error
	// handler.
	consecutiveParseErrors := 0
	for step := 0; step < e.opts.MaxSteps; step++ {
		if err := e.opts.Budget.Check(ctx); err != nil {
			return e.finish(ctx, OutcomeBudgetExceeded, "", err)
		}
		if reason, err := e.opts.StopConditions.Check(ctx); err != nil {
			return e.finish(ctx, OutcomeFailed, "", err)
		} else if reason != "" {
			return e.finish(ctx, OutcomeStopped, "", fmt.Errorf("agentexec: %s", reason))
		}

		if err := e.emit(ctx, eventlog.KindAgentStepStarted, agentStepStartedPayload{Step: step}); err != nil {
			return e.finish(ctx, OutcomeFailed, "", err)
		}

		raw, completion, err := e.callModel(ctx, step)
		if err != nil {
			return e.finish(ctx, OutcomeFailed, "", err)
		}
		if err := e.opts.Budget.Apply(ctx, governance.Delta{Tokens: completion.TokensUsed}); err != nil {
			return e.finish(ctx, OutcomeFailed, "", err)
		}

		act, parseErr := parseAction(raw)
		if parseErr != nil {
			consecutiveParseErrors++
			e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: raw})
			e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: "parse error: " + parseErr.Error()})
			if err := e.stepFinished(ctx, step, LabelParseError); err != nil {
				return e.finish(ctx, OutcomeFailed, "", err)
			}
			if consecutiveParseErrors >= e.opts.MaxConsecutiveErrors {
				return e.finish(ctx, OutcomeTooManyErrors, "", fmt.Errorf("agentexec: %d consecutive parse errors", consecutiveParseErrors))
			}
			continue
		}
		consecutiveParseErrors = 0

		switch act.Action {
		case "finish":
			label, done, result, err := e.handleFinish(ctx, act)
			if err != nil {
				return e.finish(ctx, OutcomeFailed, "", err)
			}
			if err := e.stepFinished(ctx, step, label); err != nil {
				return e.finish(ctx, OutcomeFailed, "", err)
			}
			if done {
				return e.finish(ctx, OutcomeSucceeded, result, nil)
			}
			continue

		case "tool_call":
			label, success, err := e.handleToolCall(ctx, act)
			if err != nil {
				return e.finish(ctx, OutcomeFailed, "", err)
			}
			if err := e.stepFinished(ctx, step, label); err != nil {
				return e.finish(ctx, OutcomeFailed, "", err)
			}
			e.opts.StopConditions.RecordStepOutcome(success)
		}
	}
	return e.finish(ctx, OutcomeMaxSteps, "", nil)
}

func parseAction(raw string) (action, error) {
	var act action
	if err := json.Unmarshal([]byte(raw), &act); err != nil {
		return action{}, fmt.Errorf("response is not a single JSON object: %w", err)
	}
	if act.Action != "tool_call" && act.Action != "finish" {
		return action{}, fmt.Errorf("unrecognized action %q", act.Action)
	}
	return act, nil
}

// handleFinish runs acceptance criteria (if any) against a finish action. If
// any fail, a feedback message is appended to history and the loop
// continues (done=false) without a terminal RunFinished, per spec §4.10.
func (e *Executor) handleFinish(ctx context.Context, act action) (label string, done bool, result string, err error) {
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("finish: %s", act.Result)})

	var failures []string
	for _, criterion := range e.opts.AcceptanceCriteria {
		if cerr := criterion(ctx, act.Result, e.opts.RunID); cerr != nil {
			failures = append(failures, cerr.Error())
		}
	}
	if len(failures) > 0 {
		feedback := "acceptance check failed:"
		for _, f := range failures {
			feedback += "\n- " + f
		}
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: feedback})
		return LabelAcceptanceFailed, false, "", nil
	}
	return LabelFinish, true, act.Result, nil
}

func (e *Executor) handleToolCall(ctx context.Context, act action) (label string, success bool, err error) {
	toolName := tool.ID(act.Tool)

	t, ok := e.opts.Tools.Resolve(toolName)
	if !ok {
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("unknown tool %q", act.Tool)})
		return LabelUnknownTool, false, nil
	}

	if permErr := e.opts.Permissions.Check(ctx, toolName, t.SideEffect()); permErr != nil {
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: "permission denied: " + permErr.Error()})
		return LabelPermissionDenied, false, nil
	}

	if schema := t.InputSchema(); schema != nil {
		if verr := schema.Validate(act.Input); verr != nil {
			e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: "validation error: " + verr.Error()})
			return LabelValidationError, false, nil
		}
	}

	if rerr := e.opts.Budget.RecordToolCall(ctx); rerr != nil {
		return "", false, rerr
	}
	if rerr := e.opts.StopConditions.RecordToolCall(toolName, act.Input); rerr != nil {
		return "", false, rerr
	}

	inputHash, herr := ids.Hash(act.Input)
	if herr != nil {
		return "", false, herr
	}
	if eerr := e.emit(ctx, eventlog.KindToolCallStarted, toolCallStartedPayload{
		ToolName:   toolName,
		InputHash:  inputHash,
		SideEffect: t.SideEffect(),
		Input:      act.Input,
	}); eerr != nil {
		return "", false, eerr
	}

	if e.opts.Concurrency != nil {
		if aerr := e.opts.Concurrency.Acquire(ctx, toolName); aerr != nil {
			return "", false, aerr
		}
	}
	output, execErr := t.Execute(ctx, act.Input)
	if e.opts.Concurrency != nil {
		e.opts.Concurrency.Release(toolName)
	}

	if execErr != nil {
		if eerr := e.emit(ctx, eventlog.KindToolCallFinished, toolCallFinishedPayload{Success: false, Error: execErr.Error()}); eerr != nil {
			return "", false, eerr
		}
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: "tool error: " + execErr.Error()})
		return LabelToolError, false, nil
	}

	outputHash, herr := ids.Hash(output)
	if herr != nil {
		return "", false, herr
	}
	if eerr := e.emit(ctx, eventlog.KindToolCallFinished, toolCallFinishedPayload{Success: true, OutputHash: outputHash}); eerr != nil {
		return "", false, eerr
	}

	outputJSON, merr := ids.CanonicalJSON(output)
	if merr != nil {
		return "", false, merr
	}
	e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: "tool result: " + string(outputJSON)})
	return LabelToolSuccess, true, nil
}

func (e *Executor) callModel(ctx context.Context, step int) (string, llm.Completion, error) {
	if err := e.emit(ctx, eventlog.KindLMCallStarted, lmCallStartedPayload{Step: step}); err != nil {
		return "", llm.Completion{}, err
	}
	completion, err := e.opts.Provider.Complete(ctx, e.history)
	if err != nil {
		return "", llm.Completion{}, err
	}
	if err := e.emit(ctx, eventlog.KindLMCallFinished, lmCallFinishedPayload{
		TokensUsed:       completion.TokensUsed,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	}); err != nil {
		return "", llm.Completion{}, err
	}
	return completion.Content, completion, nil
}

func (e *Executor) stepFinished(ctx context.Context, step int, label string) error {
	return e.emit(ctx, eventlog.KindAgentStepFinished, agentStepFinishedPayload{Step: step, ResultLabel: label})
}

func (e *Executor) finish(ctx context.Context, outcome Outcome, result string, err error) Result {
	if emitErr := e.emit(ctx, eventlog.KindRunFinished, runFinishedPayload{Outcome: string(outcome), Result: result}); emitErr != nil && err == nil {
		err = emitErr
	}
	return Result{Outcome: outcome, Result: result, Err: err}
}

func (e *Executor) emit(ctx context.Context, kind eventlog.Kind, payload any) error {
	ev, err := eventlog.NewEvent(e.opts.RunID, e.seq.Next(), kind, payload)
	if err != nil {
		return err
	}
	return e.opts.Store.Append(ctx, ev)
}
