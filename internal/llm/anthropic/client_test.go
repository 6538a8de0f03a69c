package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/llm"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestComplete_TranslatesTextAndUsage(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hello back"}},
			Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	out, err := cl.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be nice"},
		{Role: llm.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", out.Content)
	require.Equal(t, int64(15), out.TokensUsed)
	require.Equal(t, int64(10), out.PromptTokens)
	require.Equal(t, int64(5), out.CompletionTokens)

	require.Len(t, stub.lastParams.System, 1)
	require.Equal(t, "be nice", stub.lastParams.System[0].Text)
}

func TestNew_RequiresModelAndMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{}
	_, err := New(stub, Options{MaxTokens: 10})
	require.Error(t, err)
	_, err = New(stub, Options{DefaultModel: "m"})
	require.Error(t, err)
}
