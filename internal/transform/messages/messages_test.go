package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/ir"
)

func TestParseRequest_SystemAndToolResult(t *testing.T) {
	raw := []byte(`{
		"model":"claude-3-5-sonnet","max_tokens":100,
		"system":"be terse",
		"messages":[
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"42"},{"type":"text","text":"thanks"}]}
		]
	}`)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ir.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content.Text)
	assert.Equal(t, ir.RoleTool, req.Messages[1].Role)
	assert.Equal(t, "t1", req.Messages[1].ToolCallID)
	assert.Equal(t, "42", req.Messages[1].Content.Text)
	assert.Equal(t, ir.RoleUser, req.Messages[2].Role)
	assert.Equal(t, "thanks", req.Messages[2].Content.Text)
}

func TestBuildRequest_MergesConsecutiveSameRole(t *testing.T) {
	req := ir.Request{
		Model: "claude-3-5-sonnet",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: ir.Content{Text: "part one"}},
			{Role: ir.RoleUser, Content: ir.Content{Text: "part two"}},
			{Role: ir.RoleAssistant, Content: ir.Content{Text: "ok"}},
		},
	}

	raw, err := BuildRequest(req)
	require.NoError(t, err)

	var wire Request
	require.NoError(t, json.Unmarshal(raw, &wire))
	require.Len(t, wire.Messages, 2)
	assert.Equal(t, "user", wire.Messages[0].Role)

	var blocks []ContentBlock
	require.NoError(t, json.Unmarshal(wire.Messages[0].Content, &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, "part one", blocks[0].Text)
	assert.Equal(t, "part two", blocks[1].Text)
}

func TestBuildRequest_DefaultsMaxTokens(t *testing.T) {
	raw, err := BuildRequest(ir.Request{Model: "m", Messages: []ir.Message{{Role: ir.RoleUser, Content: ir.Content{Text: "hi"}}}})
	require.NoError(t, err)

	var wire Request
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, 4096, wire.MaxTokens)
}

// Scenario 1: thinking imputation.
func TestTransformResponse_ThinkingImputation(t *testing.T) {
	raw := []byte(`{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet",
		"stop_reason":"end_turn",
		"content":[{"type":"thinking","thinking":"let me consider","signature":"sig"},{"type":"text","text":"Hello"}],
		"usage":{"input_tokens":7,"output_tokens":325}
	}`)

	resp, err := TransformResponse(raw)
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "Hello", *resp.Content)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
	assert.Equal(t, 323, resp.Usage.ReasoningTokens)
	assert.Equal(t, 332, resp.Usage.TotalTokens)
}

// Scenario 5: malformed tool arguments wrapped, not raised.
func TestFormatResponse_MalformedToolArguments(t *testing.T) {
	resp := ir.Response{
		ID: "msg_1", Model: "m", FinishReason: ir.FinishToolCalls,
		ToolCalls: []ir.ToolCall{{ID: "t1", Name: "f", Arguments: "not json"}},
	}

	raw, err := FormatResponse(resp)
	require.NoError(t, err)

	var wire Response
	require.NoError(t, json.Unmarshal(raw, &wire))
	require.Len(t, wire.Content, 1)
	assert.Equal(t, "tool_use", wire.Content[0].Type)

	var input map[string]string
	require.NoError(t, json.Unmarshal(wire.Content[0].Input, &input))
	assert.Equal(t, "not json", input["raw_arguments"])
	assert.Equal(t, "tool_use", wire.StopReason)
}

func TestTransformStream_MessageStartAndTextDelta(t *testing.T) {
	sse := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3-5-sonnet\",\"usage\":{\"input_tokens\":5,\"output_tokens\":0}}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n"

	var results []ir.StreamChunk
	for r := range TransformStream(context.Background(), strings.NewReader(sse)) {
		require.NoError(t, r.Err)
		results = append(results, r.Chunk)
	}

	require.Len(t, results, 2)
	assert.Equal(t, ir.RoleAssistant, results[0].Delta.Role)
	assert.Equal(t, "hi", results[1].Delta.ContentDelta)
}

// Scenario 4: usage arrives after finish, exactly one message_delta at flush.
func TestFormatStream_DefersFinishAndUsageUntilFlush(t *testing.T) {
	chunks := make(chan ir.StreamChunk, 2)
	chunks <- ir.StreamChunk{ID: "msg_1", Model: "m", HasFinish: true, FinishReason: ir.FinishStop}
	chunks <- ir.StreamChunk{ID: "msg_1", Model: "m", Usage: &ir.Usage{InputTokens: 10, OutputTokens: 20}}
	close(chunks)

	var buf bytes.Buffer
	err := FormatStream(context.Background(), chunks, &buf)
	require.NoError(t, err)

	out := buf.String()
	count := strings.Count(out, "event: message_delta")
	assert.Equal(t, 1, count, "exactly one message_delta must be emitted")
	assert.Contains(t, out, `"output_tokens":20`)
	assert.Contains(t, out, `"stop_reason":"end_turn"`)
	assert.Contains(t, out, "event: message_stop")
}

func TestFormatStream_BlockLifecycleBalanced(t *testing.T) {
	chunks := make(chan ir.StreamChunk, 4)
	chunks <- ir.StreamChunk{ID: "msg_1", Model: "m", Delta: ir.Delta{ContentDelta: "a", HasContentDelta: true}}
	chunks <- ir.StreamChunk{ID: "msg_1", Model: "m", Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{Index: 0, ID: "t1", Name: "lookup"}}}}
	chunks <- ir.StreamChunk{ID: "msg_1", Model: "m", Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{Index: 0, Arguments: `{"q":1}`}}}}
	chunks <- ir.StreamChunk{ID: "msg_1", Model: "m", HasFinish: true, FinishReason: ir.FinishToolCalls}
	close(chunks)

	var buf bytes.Buffer
	require.NoError(t, FormatStream(context.Background(), chunks, &buf))

	starts := regexp.MustCompile(`"index":(\d+)`).FindAllStringSubmatch(buf.String(), -1)
	startCount := strings.Count(buf.String(), "content_block_start")
	stopCount := strings.Count(buf.String(), "content_block_stop")
	assert.Equal(t, startCount, stopCount, "every content_block_start must have a matching content_block_stop")
	assert.NotEmpty(t, starts)
}

func TestExtractUsage_MessageDelta(t *testing.T) {
	data := `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":7,"output_tokens":10}}`
	u, ok := ExtractUsage("message_delta", data)
	require.True(t, ok)
	assert.Equal(t, 7, u.InputTokens)

	_, ok = ExtractUsage("content_block_delta", data)
	assert.False(t, ok)
}
