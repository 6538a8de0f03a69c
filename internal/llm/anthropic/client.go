// Package anthropic provides an llm.Provider implementation backed by the
// Anthropic Claude Messages API, grounded on
// features/model/anthropic/client.go's MessagesClient seam (real SDK client
// or a test fake) and response-translation shape.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowkernel/agentkernel/internal/llm"
)

// MessagesClient captures the subset of the Anthropic SDK client the
// adapter uses, satisfied by *sdk.MessageService or a test fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel is the Claude model identifier used for every request.
	DefaultModel string
	// MaxTokens is the completion cap. Must be positive.
	MaxTokens int
	// Temperature, if > 0, is passed through to the request.
	Temperature float64
}

// Client implements llm.Provider on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
	temp      float64
}

// New builds an Anthropic-backed provider from a Messages client and
// options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		return nil, errors.New("max tokens must be positive")
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTokens: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a provider using the default Anthropic HTTP
// client, reading apiKey from the caller (never implicitly from the
// environment inside library code).
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel, MaxTokens: maxTokens})
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "anthropic:" + c.model }

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (llm.Completion, error) {
	if len(messages) == 0 {
		return llm.Completion{}, errors.New("messages are required")
	}

	conversation, system := encodeMessages(messages)
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(c.model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translate(msg), nil
}

// GenerateStructured falls back to Complete: the kernel's RLM and agent
// executors steer structure through their own prompt/protocol, not the
// provider's native tool-calling (spec §6's provider boundary only requires
// the fallback to exist).
func (c *Client) GenerateStructured(ctx context.Context, messages []llm.Message, _ map[string]any) (llm.Completion, error) {
	return c.Complete(ctx, messages)
}

func encodeMessages(messages []llm.Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	var conversation []sdk.MessageParam
	var system []sdk.TextBlockParam
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case llm.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return conversation, system
}

func translate(msg *sdk.Message) llm.Completion {
	var content string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			content += block.Text
		}
	}
	usage := msg.Usage
	return llm.Completion{
		Content:          content,
		TokensUsed:       usage.InputTokens + usage.OutputTokens,
		PromptTokens:     usage.InputTokens,
		CompletionTokens: usage.OutputTokens,
	}
}
