package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/transform"
)

func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func bytesReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestParseRequest_RoundTripsBasicMessage(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.5}`)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Content.Text)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
}

func TestParseRequest_MalformedJSON(t *testing.T) {
	_, err := ParseRequest([]byte(`{not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrMalformedRequest)
}

func TestParseRequest_ToolChoiceNamed(t *testing.T) {
	raw := []byte(`{"model":"m","messages":[],"tool_choice":{"type":"function","function":{"name":"lookup"}}}`)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, ir.ToolChoiceNamed, req.ToolChoice.Mode)
	assert.Equal(t, "lookup", req.ToolChoice.Name)
}

func TestBuildRequest_RoundTrip(t *testing.T) {
	req := ir.Request{
		Model: "gpt-4o",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: ir.Content{Text: "hello"}},
		},
		MaxTokens: 100,
	}

	raw, err := BuildRequest(req)
	require.NoError(t, err)

	back, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, req.Model, back.Model)
	assert.Equal(t, req.Messages[0].Content.Text, back.Messages[0].Content.Text)
	assert.Equal(t, req.MaxTokens, back.MaxTokens)
}

func TestTransformResponse_UsageSubtraction(t *testing.T) {
	raw := []byte(`{
		"id":"r1","object":"chat.completion","created":1,"model":"gpt-4o",
		"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":110,"completion_tokens":60,"total_tokens":170,
			"prompt_tokens_details":{"cached_tokens":10},
			"completion_tokens_details":{"reasoning_tokens":20}}
	}`)

	resp, err := TransformResponse(raw)
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "hi", *resp.Content)
	assert.Equal(t, ir.FinishStop, resp.FinishReason)
	assert.Equal(t, 100, resp.Usage.InputTokens)
	assert.Equal(t, 40, resp.Usage.OutputTokens)
	assert.Equal(t, 20, resp.Usage.ReasoningTokens)
	assert.Equal(t, 10, resp.Usage.CachedTokens)
}

func TestFormatResponse_ToolCalls(t *testing.T) {
	resp := ir.Response{
		ID: "r1", Model: "gpt-4o", FinishReason: ir.FinishToolCalls,
		ToolCalls: []ir.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`}},
	}

	raw, err := FormatResponse(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, jsonUnmarshal(raw, &decoded))
	require.Len(t, decoded.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "lookup", decoded.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestTransformStream_GeminiInChatOutScenario(t *testing.T) {
	// Mirrors the Gemini-in/Chat-out scenario's expected SSE shape, but
	// exercised from the Chat side: two content frames then a terminal
	// frame with finish_reason and usage, followed by [DONE].
	sse := "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2,\"total_tokens\":12}}\n\n" +
		"data: [DONE]\n\n"

	ctx := context.Background()
	results := make([]transform.StreamResult, 0, 3)
	for r := range TransformStream(ctx, bytesReader(sse)) {
		results = append(results, r)
	}

	require.Len(t, results, 3)
	assert.Equal(t, "Hel", results[0].Chunk.Delta.ContentDelta)
	assert.Equal(t, "lo", results[1].Chunk.Delta.ContentDelta)
	assert.True(t, results[2].Chunk.HasFinish)
	assert.Equal(t, ir.FinishStop, results[2].Chunk.FinishReason)
	require.NotNil(t, results[2].Chunk.Usage)
	assert.Equal(t, 10, results[2].Chunk.Usage.InputTokens)
	assert.Equal(t, 2, results[2].Chunk.Usage.OutputTokens)
}

func TestFormatStream_EndsWithDone(t *testing.T) {
	chunks := make(chan ir.StreamChunk, 2)
	chunks <- ir.StreamChunk{ID: "1", Delta: ir.Delta{ContentDelta: "hi", HasContentDelta: true}}
	chunks <- ir.StreamChunk{ID: "1", HasFinish: true, FinishReason: ir.FinishStop}
	close(chunks)

	var buf bytes.Buffer
	err := FormatStream(context.Background(), chunks, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"content":"hi"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.True(t, len(out) > 0 && out[len(out)-1] == '\n')
	assert.Contains(t, out, "data: [DONE]\n\n")
}

func TestExtractUsage(t *testing.T) {
	data := `{"id":"c1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`
	u, ok := ExtractUsage("", data)
	require.True(t, ok)
	assert.Equal(t, 5, u.InputTokens)

	_, ok = ExtractUsage("", "[DONE]")
	assert.False(t, ok)
}
