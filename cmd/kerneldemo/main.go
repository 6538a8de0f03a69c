// Command kerneldemo wires the agent orchestration kernel's components
// into one end-to-end run: a two-step linear workflow whose second step is
// a tool-calling agent, governed by a shared budget, logged through the
// event log, and replayable afterward.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/flowkernel/agentkernel/internal/agentexec"
	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/eventlog/sqlstore"
	"github.com/flowkernel/agentkernel/internal/governance"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/llm"
	"github.com/flowkernel/agentkernel/internal/llm/anthropic"
	"github.com/flowkernel/agentkernel/internal/replay"
	"github.com/flowkernel/agentkernel/internal/tool"
	"github.com/flowkernel/agentkernel/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	store, closeStore, err := openStore()
	if err != nil {
		return fmt.Errorf("kerneldemo: open store: %w", err)
	}
	defer closeStore()

	provider, err := openProvider()
	if err != nil {
		return fmt.Errorf("kerneldemo: configure LM provider: %w", err)
	}

	registry := tool.NewRegistry()
	if err := registry.Register(echoTool()); err != nil {
		return fmt.Errorf("kerneldemo: register tools: %w", err)
	}

	runID := ids.NewRunID()
	seq := eventlog.NewCounter()

	budget := governance.NewBudget(runID, governance.Spec{
		MaxTokens:         50_000,
		MaxToolCalls:      50,
		MaxTimeS:          120,
		MaxRecursionDepth: 6,
		MaxParallel:       4,
	}, seq, store)
	stops := governance.NewStopConditions(governance.StopConditionLimits{
		MaxRepeatedToolCalls:   3,
		MaxConsecutiveFailures: 3,
		MaxNoProgressSteps:     5,
	}, runID, seq, store)
	perms := governance.NewPermissions(nil, governance.ActionAllow, runID, seq, store)

	linear := workflow.NewLinearEngine(store)
	wf := workflow.LinearWorkflow{
		Name: "kerneldemo",
		Tasks: []workflow.TaskDef{
			{
				Name: "greet",
				Run: func(context.Context, map[string]any) (any, error) {
					return "hello from the kernel", nil
				},
			},
			{
				Name:      "agent-step",
				DependsOn: []string{"greet"},
				Run: func(taskCtx context.Context, _ map[string]any) (any, error) {
					ex := agentexec.NewExecutor(agentexec.Options{
						RunID:          runID,
						AgentName:      "demo-agent",
						Store:          store,
						Budget:         budget,
						StopConditions: stops,
						Permissions:    perms,
						Tools:          registry,
						Provider:       provider,
						SystemPrompt:   "You have an echo tool. Call it once, then finish.",
						MaxSteps:       6,
					}, seq)
					res := ex.Run(taskCtx)
					return res.Result, res.Err
				},
			},
		},
	}

	if _, err := linear.Run(ctx, wf, ""); err != nil {
		return fmt.Errorf("kerneldemo: workflow run failed: %w", err)
	}

	result, err := replay.Strict(ctx, store, runID)
	if err != nil {
		return fmt.Errorf("kerneldemo: replay: %w", err)
	}
	fmt.Printf("run %s replayed %d events, success=%v\n", runID, len(result.Events), result.Success)
	return nil
}

// openStore opens a sqlstore.Store at KERNEL_DB_PATH if set, falling back
// to an in-memory store otherwise.
func openStore() (eventlog.Store, func(), error) {
	path := os.Getenv("KERNEL_DB_PATH")
	if path == "" {
		return memstore.New(), func() {}, nil
	}
	st, err := sqlstore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// openProvider constructs the Anthropic LM provider from ANTHROPIC_API_KEY
// if set, falling back to a canned scripted provider so the demo runs
// without network access or credentials.
func openProvider() (llm.Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return scriptedProvider{}, nil
	}
	return anthropic.NewFromAPIKey(apiKey, "claude-3-5-sonnet-latest", 1024)
}

// scriptedProvider is a zero-dependency llm.Provider used when no API key
// is configured, so the demo always produces a complete, replayable run: it
// calls the echo tool once, then finishes, deciding which by how much
// history has accumulated.
type scriptedProvider struct{}

func (scriptedProvider) Name() string { return "scripted" }

func (scriptedProvider) Complete(_ context.Context, history []llm.Message) (llm.Completion, error) {
	if len(history) <= 1 {
		return llm.Completion{
			Content:    `{"action":"tool_call","tool":"echo","input":{"text":"hi"},"reasoning":"demonstrate the tool loop"}`,
			TokensUsed: 8,
		}, nil
	}
	return llm.Completion{
		Content:    `{"action":"finish","result":"done","reasoning":"echo already demonstrated"}`,
		TokensUsed: 4,
	}, nil
}

func (p scriptedProvider) GenerateStructured(ctx context.Context, messages []llm.Message, _ map[string]any) (llm.Completion, error) {
	return p.Complete(ctx, messages)
}

func echoTool() tool.Tool {
	return tool.Func{
		FName:       "echo",
		FVersion:    "1.0.0",
		FSideEffect: tool.SideEffectPure,
		FInput: &tool.Schema{
			Type:       tool.TypeObject,
			Properties: map[string]*tool.Schema{"text": {Type: tool.TypeString}},
			Required:   []string{"text"},
		},
		FOutput: &tool.Schema{
			Type:       tool.TypeObject,
			Properties: map[string]*tool.Schema{"text": {Type: tool.TypeString}},
		},
		FExecute: func(_ context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"text": input["text"]}, nil
		},
	}
}
