// Package llm defines the kernel's LM provider boundary (spec §6): a small
// interface concrete transports (Anthropic, OpenAI, ...) implement, so the
// RLM and tool-calling agent executors never depend on a specific vendor
// wire format.
package llm

import "context"

// Role identifies the speaker of a Message in a conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation passed to a Provider.
type Message struct {
	Role    Role
	Content string
}

// Completion is a Provider's response to a Complete call. TokensUsed must
// be >= 0 (spec §6).
type Completion struct {
	Content          string
	TokensUsed       int64
	PromptTokens     int64
	CompletionTokens int64
}

// Provider is the LM transport boundary every concrete client (Anthropic,
// OpenAI, a test fake) must satisfy (spec §6).
type Provider interface {
	// Name identifies the provider for logging/telemetry.
	Name() string

	// Complete issues a synchronous completion request over messages.
	Complete(ctx context.Context, messages []Message) (Completion, error)

	// GenerateStructured optionally steers the model toward a schema or a
	// named tool-call shape. Implementations that don't support structured
	// output fall back to Complete.
	GenerateStructured(ctx context.Context, messages []Message, schema map[string]any) (Completion, error)
}
