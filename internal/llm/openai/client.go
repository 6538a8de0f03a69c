// Package openai provides an llm.Provider implementation backed by the
// OpenAI Chat Completions API, grounded on
// features/model/openai/client.go's ChatClient seam so tests never touch
// the real network.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/flowkernel/agentkernel/internal/llm"
)

// ChatClient captures the subset of the go-openai client the adapter uses.
// Satisfied by *sdk.Client or a test fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llm.Provider via OpenAI Chat Completions.
type Client struct {
	chat        ChatClient
	model       string
	maxTokens   int
	temperature float32
}

// New builds an OpenAI-backed provider from the given options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: modelID, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a provider using the default go-openai HTTP
// client, reading apiKey from the caller (never implicitly from the
// environment inside library code).
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: sdk.NewClient(apiKey), DefaultModel: defaultModel})
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "openai:" + c.model }

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (llm.Completion, error) {
	if len(messages) == 0 {
		return llm.Completion{}, errors.New("messages are required")
	}
	req := sdk.ChatCompletionRequest{
		Model:       c.model,
		Messages:    encodeMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.Completion{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translate(resp), nil
}

// GenerateStructured falls back to Complete: Chat Completions' function
// calling is out of scope for the kernel's minimal provider boundary (the
// tool-calling agent executor drives its own JSON protocol in the message
// text, per spec §4.10).
func (c *Client) GenerateStructured(ctx context.Context, messages []llm.Message, _ map[string]any) (llm.Completion, error) {
	return c.Complete(ctx, messages)
}

func encodeMessages(messages []llm.Message) []sdk.ChatCompletionMessage {
	out := make([]sdk.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = sdk.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func translate(resp sdk.ChatCompletionResponse) llm.Completion {
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return llm.Completion{
		Content:          content,
		TokensUsed:       int64(resp.Usage.TotalTokens),
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
	}
}
