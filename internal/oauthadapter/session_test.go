package oauthadapter

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/ir"
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

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	dec := &noopDecoder{}
	return ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func newTestSession(t *testing.T, stub *stubMessagesClient) *ClaudeCodeSession {
	t.Helper()
	return &ClaudeCodeSession{msg: stub, model: "claude-sonnet-4-5"}
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hi there"}},
		Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	session := newTestSession(t, stub)

	req := &ir.Request{
		MaxTokens: 128,
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: ir.Content{Text: "hello"}},
		},
	}

	resp, err := session.Complete(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	require.Equal(t, "hi there", *resp.Content)
	require.Equal(t, ir.FinishStop, resp.FinishReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestComplete_ToolUse_NameIsProxiedAndUnproxied(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{
			Type: "tool_use",
			ID:   "toolu_1",
			Name: "proxy_lookup",
			Input: map[string]any{"q": "x"},
		}},
	}}
	session := newTestSession(t, stub)

	req := &ir.Request{
		MaxTokens: 128,
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: ir.Content{Text: "look it up"}},
		},
		Tools: []ir.ToolDefinition{
			{Name: "lookup", Description: "look something up", Parameters: map[string]any{"type": "object"}},
		},
	}

	resp, err := session.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "lookup", resp.ToolCalls[0].Name)
	require.Equal(t, ir.FinishToolCalls, resp.FinishReason)

	require.Len(t, stub.lastParams.Tools, 1)
	require.Equal(t, "proxy_lookup", *stub.lastParams.Tools[0].OfTool.Name)
}

func TestComplete_RejectsEmptyMessages(t *testing.T) {
	session := newTestSession(t, &stubMessagesClient{})
	_, err := session.Complete(context.Background(), &ir.Request{MaxTokens: 10})
	require.Error(t, err)
}

func TestComplete_SystemMessageLiftedOut(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	session := newTestSession(t, stub)

	req := &ir.Request{
		MaxTokens: 64,
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: ir.Content{Text: "be terse"}},
			{Role: ir.RoleUser, Content: ir.Content{Text: "hi"}},
		},
	}
	_, err := session.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, stub.lastParams.System, 1)
	require.Equal(t, "be terse", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
}
