package responses

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

func TestParseRequest_StringInput(t *testing.T) {
	raw := []byte(`{"model":"gpt-5","input":"hello there","instructions":"be terse"}`)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ir.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content.Text)
	assert.Equal(t, ir.RoleUser, req.Messages[1].Role)
}

func TestParseRequest_ItemDispatch(t *testing.T) {
	raw := []byte(`{"model":"gpt-5","input":[
		{"type":"message","role":"user","content":"hi"},
		{"type":"function_call","call_id":"call_a","name":"lookup","arguments":"{}"},
		{"type":"function_call_output","call_id":"call_a","output":"42"}
	]}`)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
	assert.Equal(t, ir.RoleAssistant, req.Messages[1].Role)
	require.Len(t, req.Messages[1].ToolCalls, 1)
	assert.Equal(t, "call_a", req.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, ir.RoleTool, req.Messages[2].Role)
	assert.Equal(t, "call_a", req.Messages[2].ToolCallID)
}

func TestBuildRequest_SystemLiftedToInstructions(t *testing.T) {
	req := ir.Request{
		Model: "gpt-5",
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: ir.Content{Text: "be terse"}},
			{Role: ir.RoleUser, Content: ir.Content{Text: "hi"}},
		},
	}

	raw, err := BuildRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"instructions":"be terse"`)

	back, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, ir.RoleSystem, back.Messages[0].Role)
}

func TestExtractUsage(t *testing.T) {
	data := `{"type":"response.completed","response":{"id":"r1","usage":{"input_tokens":17547,"input_tokens_details":{"cached_tokens":14976},"output_tokens":416,"output_tokens_details":{"reasoning_tokens":0},"total_tokens":17963}}}`
	u, ok := ExtractUsage("response.completed", data)
	require.True(t, ok)
	assert.Equal(t, 2571, u.InputTokens)
	assert.Equal(t, 14976, u.CachedTokens)
	assert.Equal(t, 416, u.OutputTokens)
}

// Scenario 6: usage formatting.
func TestUsageToWire_Scenario6(t *testing.T) {
	u := ir.Usage{InputTokens: 2571, OutputTokens: 416, CachedTokens: 14976, ReasoningTokens: 0, TotalTokens: 17963}
	wire := usageToWire(u)
	assert.Equal(t, 17547, wire.InputTokens)
	assert.Equal(t, 14976, wire.InputTokensDetails.CachedTokens)
	assert.Equal(t, 416, wire.OutputTokens)
	assert.Equal(t, 17963, wire.TotalTokens)
}

// Scenario 3: tool calls with out-of-order argument fragments.
func TestFormatStream_ToolCallOutOfOrderFragments(t *testing.T) {
	in := make(chan ir.StreamChunk, 4)
	in <- ir.StreamChunk{ID: "resp1", Model: "gpt-5", Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{Index: 0, ID: "call_a", Name: "lookup"}}}}
	in <- ir.StreamChunk{Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{Index: 0, Arguments: `{"q":"x`}}}}
	in <- ir.StreamChunk{Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{Index: 0, Arguments: `"}`}}}}
	in <- ir.StreamChunk{HasFinish: true, FinishReason: ir.FinishToolCalls}
	close(in)

	var buf bytes.Buffer
	err := FormatStream(context.Background(), in, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"delta":"{\"q\":\"x"`)
	assert.Contains(t, out, `"delta":"\"}"`)

	completedIdx := strings.Index(out, "event: response.completed")
	require.GreaterOrEqual(t, completedIdx, 0)
	completedData := extractDataLine(t, out[completedIdx:])

	var completed completedEvent
	require.NoError(t, json.Unmarshal([]byte(completedData), &completed))
	require.Len(t, completed.Response.Output, 1)
	item := completed.Response.Output[0]
	assert.Equal(t, "function_call", item.Type)
	assert.Equal(t, "call_a", item.CallID)
	assert.Equal(t, `{"q":"x"}`, item.Arguments)
}

func TestFormatStream_SequenceAndOutputIndexInvariants(t *testing.T) {
	in := make(chan ir.StreamChunk, 3)
	in <- ir.StreamChunk{ID: "resp1", Model: "gpt-5", Delta: ir.Delta{ContentDelta: "Hi", HasContentDelta: true}}
	in <- ir.StreamChunk{Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{Index: 0, ID: "call_a", Name: "lookup", Arguments: "{}"}}}}
	in <- ir.StreamChunk{HasFinish: true, FinishReason: ir.FinishStop, Usage: &ir.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}}
	close(in)

	var buf bytes.Buffer
	require.NoError(t, FormatStream(context.Background(), in, &buf))

	seqRe := regexp.MustCompile(`"sequence_number":(\d+)`)
	matches := seqRe.FindAllStringSubmatch(buf.String(), -1)
	require.NotEmpty(t, matches)
	for i, m := range matches {
		assert.Equal(t, i, atoi(t, m[1]))
	}

	idxRe := regexp.MustCompile(`"output_index":(\d+)`)
	seen := map[int]bool{}
	for _, m := range idxRe.FindAllStringSubmatch(buf.String(), -1) {
		seen[atoi(t, m[1])] = true
	}
	for i := 0; i < len(seen); i++ {
		assert.True(t, seen[i], "output_index %d missing from a contiguous prefix", i)
	}
}

func TestTransformStream_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := make(chan ir.StreamChunk, 2)
	in <- ir.StreamChunk{ID: "resp1", Model: "gpt-5", Delta: ir.Delta{ContentDelta: "hi", HasContentDelta: true}}
	in <- ir.StreamChunk{HasFinish: true, FinishReason: ir.FinishStop, Usage: &ir.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}}
	close(in)
	require.NoError(t, FormatStream(context.Background(), in, &buf))

	var results []ir.StreamChunk
	for r := range TransformStream(context.Background(), strings.NewReader(buf.String())) {
		require.NoError(t, r.Err)
		results = append(results, r.Chunk)
	}

	var gotText string
	var gotFinish bool
	for _, c := range results {
		gotText += c.Delta.ContentDelta
		if c.HasFinish {
			gotFinish = true
		}
	}
	assert.Equal(t, "hi", gotText)
	assert.True(t, gotFinish)
}

func extractDataLine(t *testing.T, s string) string {
	t.Helper()
	lines := strings.Split(s, "\n")
	for _, l := range lines {
		if strings.HasPrefix(l, "data: ") {
			return strings.TrimPrefix(l, "data: ")
		}
	}
	t.Fatal("no data line found")
	return ""
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
