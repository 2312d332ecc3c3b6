package gemini

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/ir"
)

func TestGetEndpoint(t *testing.T) {
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent",
		GetEndpoint(ir.Request{Model: "gemini-2.0-flash"}))
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse",
		GetEndpoint(ir.Request{Model: "gemini-2.0-flash", Stream: true}))
	assert.Equal(t, "/v1beta/tunedModels/my-model:generateContent",
		GetEndpoint(ir.Request{Model: "tunedModels/my-model"}))
}

func TestParseRequest_RoleMapping(t *testing.T) {
	raw := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]},{"role":"model","parts":[{"text":"hello"}]}]}`)

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
	assert.Equal(t, ir.RoleAssistant, req.Messages[1].Role)
}

func TestBuildRequest_SystemAndRoleMapping(t *testing.T) {
	req := ir.Request{
		Model: "gemini-2.0-flash",
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: ir.Content{Text: "be terse"}},
			{Role: ir.RoleUser, Content: ir.Content{Text: "hi"}},
			{Role: ir.RoleAssistant, Content: ir.Content{Text: "hello"}},
		},
	}

	raw, err := BuildRequest(req)
	require.NoError(t, err)

	back, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, back.Messages, 3)
	assert.Equal(t, ir.RoleSystem, back.Messages[0].Role)
	assert.Equal(t, "be terse", back.Messages[0].Content.Text)
	assert.Equal(t, ir.RoleAssistant, back.Messages[2].Role)
}

func TestBuildRequest_ToolChoiceNamed(t *testing.T) {
	req := ir.Request{Model: "m", ToolChoice: &ir.ToolChoice{Mode: ir.ToolChoiceNamed, Name: "lookup"}}

	raw, err := BuildRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mode":"ANY"`)
	assert.Contains(t, string(raw), `"allowedFunctionNames":["lookup"]`)
}

func TestTransformResponse_ThoughtSplit(t *testing.T) {
	raw := []byte(`{
		"candidates":[{"content":{"role":"model","parts":[
			{"text":"thinking...","thought":true},
			{"text":"answer"}
		]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2,"totalTokenCount":12,"thoughtsTokenCount":5}
	}`)

	resp, err := TransformResponse(raw)
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "answer", *resp.Content)
	assert.Equal(t, "thinking...", resp.ReasoningContent)
	assert.Equal(t, ir.FinishStop, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.ReasoningTokens)
}

// Scenario 2 (exercised from the Gemini ingress side): three chunks, two
// content deltas then a terminal usage chunk.
func TestTransformStream_Scenario2(t *testing.T) {
	sse := `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}` + "\n\n" +
		`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]}}]}` + "\n\n" +
		`data: {"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2,"totalTokenCount":12}}` + "\n\n"

	var results []ir.StreamChunk
	for r := range TransformStream(context.Background(), strings.NewReader(sse)) {
		require.NoError(t, r.Err)
		results = append(results, r.Chunk)
	}

	require.Len(t, results, 3)
	assert.Equal(t, "Hel", results[0].Delta.ContentDelta)
	assert.Equal(t, "lo", results[1].Delta.ContentDelta)
	assert.True(t, results[2].HasFinish)
	assert.Equal(t, ir.FinishStop, results[2].FinishReason)
	require.NotNil(t, results[2].Usage)
	assert.Equal(t, 10, results[2].Usage.InputTokens)
}

func TestExtractUsage(t *testing.T) {
	data := `{"candidates":[{"content":{"parts":[{"text":"x"}]}}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`
	u, ok := ExtractUsage("", data)
	require.True(t, ok)
	assert.Equal(t, 1, u.InputTokens)
}
