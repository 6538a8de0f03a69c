// Package rlm implements the recursive LM executor (spec §4.9): an LLM loop
// whose action surface is a sandboxed code interpreter, with an injected
// lm_query helper for nested sub-queries.
package rlm

import (
	"context"
	"fmt"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/governance"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/llm"
	"github.com/flowkernel/agentkernel/internal/sandbox"
)

// Outcome is the terminal disposition of an RLM run (spec §4.9).
type Outcome string

const (
	OutcomeSucceeded      Outcome = "SUCCEEDED"
	OutcomeMaxIterations  Outcome = "MAX_ITERATIONS"
	OutcomeStopped        Outcome = "STOPPED"
	OutcomeBudgetExceeded Outcome = "BUDGET_EXCEEDED"
	OutcomeFailed         Outcome = "FAILED"
)

// Result is what Executor.Run returns: the terminal outcome plus the final
// value when SUCCEEDED.
type Result struct {
	Outcome Outcome
	Result  any
	Err     error
}

// Options configures an Executor run.
type Options struct {
	RunID           ids.RunID
	Store           eventlog.Store
	Budget          *governance.Budget
	StopConditions  *governance.StopConditions
	Provider        llm.Provider
	SystemPrompt    string
	MaxIterations   int
	MaxRecursionDepth int
}

// Executor drives the code-generation <-> sandbox-execution loop described
// in spec §4.9.
type Executor struct {
	opts    Options
	seq     *eventlog.Counter
	sandbox *sandbox.Sandbox
	history []llm.Message
}

// NewExecutor constructs an Executor sharing seq with every other component
// emitting events for the same run.
func NewExecutor(opts Options, seq *eventlog.Counter, injected map[string]sandbox.BuiltinFunc) *Executor {
	ex := &Executor{opts: opts, seq: seq}
	ns := sandbox.NewNamespace(mergeInjected(injected, ex.lmQueryFunc()))
	ex.sandbox = sandbox.NewSandbox(ns)
	if opts.SystemPrompt != "" {
		ex.history = append(ex.history, llm.Message{Role: llm.RoleSystem, Content: opts.SystemPrompt})
	}
	return ex
}

func mergeInjected(injected map[string]sandbox.BuiltinFunc, lmQuery sandbox.BuiltinFunc) map[string]sandbox.BuiltinFunc {
	out := make(map[string]sandbox.BuiltinFunc, len(injected)+1)
	for k, v := range injected {
		out[k] = v
	}
	out["lm_query"] = lmQuery
	return out
}

// Sandbox exposes the underlying sandbox, mainly for tests.
func (e *Executor) Sandbox() *sandbox.Sandbox { return e.sandbox }

type rlmIterationStartedPayload struct {
	Iteration int `json:"iteration"`
}

type lmCallStartedPayload struct {
	CallType  string `json:"call_type"`
	Iteration int    `json:"iteration,omitempty"`
}

type lmCallFinishedPayload struct {
	TokensUsed       int64 `json:"tokens_used"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type replExecStartedPayload struct {
	CodeHash  string `json:"code_hash"`
	Iteration int    `json:"iteration"`
}

type replExecFinishedPayload struct {
	Success      bool     `json:"success"`
	ErrorType    string   `json:"error_type,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Variables    []string `json:"variables"`
	HasFinal     bool     `json:"has_final"`
}

type rlmIterationFinishedPayload struct {
	Iteration int  `json:"iteration"`
	HasFinal  bool `json:"has_final"`
	Success   bool `json:"success"`
}

// Run executes the loop described in spec §4.9 until FINAL is set, budget
// or a stop condition triggers, max iterations is reached, or an
// unexpected error occurs.
func (e *Executor) Run(ctx context.Context) Result {
	for iteration := 0; iteration < e.opts.MaxIterations; iteration++ {
		if err := e.opts.Budget.Check(ctx); err != nil {
			return Result{Outcome: OutcomeBudgetExceeded, Err: err}
		}
		if reason, err := e.opts.StopConditions.Check(ctx); err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		} else if reason != "" {
			return Result{Outcome: OutcomeStopped, Err: fmt.Errorf("rlm: %s", reason)}
		}

		if err := e.emit(ctx, eventlog.KindRLMIterationStarted, rlmIterationStartedPayload{Iteration: iteration}); err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		}

		code, completion, err := e.generateCode(ctx, iteration)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		}
		if err := e.opts.Budget.Apply(ctx, governance.Delta{Tokens: completion.TokensUsed}); err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		}

		execResult, err := e.execInSandbox(ctx, code, iteration)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		}

		e.appendTurn(code, execResult)

		e.opts.StopConditions.RecordStepOutcome(execResult.Success)

		success := execResult.Success
		hasFinal := execResult.Snapshot.HasFinal
		if err := e.emit(ctx, eventlog.KindRLMIterationFinished, rlmIterationFinishedPayload{
			Iteration: iteration,
			HasFinal:  hasFinal,
			Success:   success,
		}); err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		}

		if hasFinal {
			final, _ := e.sandbox.Namespace().Final()
			return Result{Outcome: OutcomeSucceeded, Result: final}
		}
	}
	return Result{Outcome: OutcomeMaxIterations}
}

func (e *Executor) generateCode(ctx context.Context, iteration int) (string, llm.Completion, error) {
	if err := e.emit(ctx, eventlog.KindLMCallStarted, lmCallStartedPayload{CallType: "code_generation", Iteration: iteration}); err != nil {
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

func (e *Executor) execInSandbox(ctx context.Context, code string, iteration int) (sandbox.ExecResult, error) {
	codeHash, err := ids.Hash(code)
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	if err := e.emit(ctx, eventlog.KindREPLExecStarted, replExecStartedPayload{CodeHash: codeHash, Iteration: iteration}); err != nil {
		return sandbox.ExecResult{}, err
	}

	result := e.sandbox.Execute(code)

	var varNames []string
	for _, v := range result.Snapshot.Variables {
		varNames = append(varNames, v.Name)
	}
	if err := e.emit(ctx, eventlog.KindREPLExecFinished, replExecFinishedPayload{
		Success:      result.Success,
		ErrorType:    result.ErrorType,
		ErrorMessage: result.ErrorMessage,
		Variables:    varNames,
		HasFinal:     result.Snapshot.HasFinal,
	}); err != nil {
		return sandbox.ExecResult{}, err
	}
	return result, nil
}

// appendTurn appends the generated code and a formatted metadata block
// (variables, truncated stdout, error info, FINAL signal) to the message
// history, per spec §4.9 step 7.
func (e *Executor) appendTurn(code string, result sandbox.ExecResult) {
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: code})

	meta := "Execution result:\n"
	if result.Success {
		meta += "status: ok\n"
	} else {
		meta += fmt.Sprintf("status: error (%s): %s\n", result.ErrorType, result.ErrorMessage)
	}
	if result.Stdout != "" {
		meta += "stdout: " + truncate(result.Stdout, 500) + "\n"
	}
	meta += "variables:\n"
	for _, v := range result.Snapshot.Variables {
		meta += fmt.Sprintf("  %s = %s\n", v.Name, v.Repr)
	}
	if result.Snapshot.HasFinal {
		meta += "FINAL is set: " + result.Snapshot.FinalValue + "\n"
	}
	e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: meta})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (e *Executor) emit(ctx context.Context, kind eventlog.Kind, payload any) error {
	ev, err := eventlog.NewEvent(e.opts.RunID, e.seq.Next(), kind, payload)
	if err != nil {
		return err
	}
	return e.opts.Store.Append(ctx, ev)
}

// lmQueryFunc returns the sandbox-injected lm_query(text) helper (spec
// §4.9): each invocation increments recursion depth in the budget, emits
// LMCallStarted{call_type="sub_lm_query"} -> provider call -> LMCallFinished,
// records tokens, and decrements depth on return. Exceeding
// max_recursion_depth raises, which the sandbox captures as a non-fatal
// error fed back to the model, not a kernel error.
func (e *Executor) lmQueryFunc() sandbox.BuiltinFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lm_query: expected 1 argument, got %d", len(args))
		}
		text, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("lm_query: argument must be a string")
		}

		ctx := context.Background()
		if err := e.opts.Budget.Apply(ctx, governance.Delta{RecursionDepth: 1}); err != nil {
			return nil, err
		}
		if e.opts.Budget.Usage().CurrentRecursionDepth > e.opts.MaxRecursionDepth {
			_ = e.opts.Budget.Apply(ctx, governance.Delta{RecursionDepth: -1})
			return nil, fmt.Errorf("lm_query: max_recursion_depth exceeded")
		}
		defer func() { _ = e.opts.Budget.Apply(ctx, governance.Delta{RecursionDepth: -1}) }()

		if err := e.emit(ctx, eventlog.KindLMCallStarted, lmCallStartedPayload{CallType: "sub_lm_query"}); err != nil {
			return nil, err
		}
		completion, err := e.opts.Provider.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: text}})
		if err != nil {
			return nil, err
		}
		if err := e.emit(ctx, eventlog.KindLMCallFinished, lmCallFinishedPayload{
			TokensUsed:       completion.TokensUsed,
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
		}); err != nil {
			return nil, err
		}
		if err := e.opts.Budget.Apply(ctx, governance.Delta{Tokens: completion.TokensUsed}); err != nil {
			return nil, err
		}
		return completion.Content, nil
	}
}
