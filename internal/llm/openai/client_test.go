package openai

import (
	"context"
	"testing"

	sdk "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/llm"
)

type stubChatClient struct {
	lastReq sdk.ChatCompletionRequest
	resp    sdk.ChatCompletionResponse
	err     error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func TestComplete_TranslatesResponse(t *testing.T) {
	stub := &stubChatClient{
		resp: sdk.ChatCompletionResponse{
			Choices: []sdk.ChatCompletionChoice{{Message: sdk.ChatCompletionMessage{Role: "assistant", Content: "hi there"}}},
			Usage:   sdk.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	out, err := cl.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}})
	require.NoError(t, err)
	require.Equal(t, "hi there", out.Content)
	require.Equal(t, int64(10), out.TokensUsed)
	require.Equal(t, "gpt-4o", stub.lastReq.Model)
}

func TestNew_RequiresClientAndModel(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
	_, err = New(Options{Client: &stubChatClient{}})
	require.Error(t, err)
}
