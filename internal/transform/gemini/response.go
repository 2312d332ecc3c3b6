package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llmrouter/gateway/internal/ir"
)

func finishReasonFromWire(s string) ir.FinishReason {
	switch strings.ToUpper(s) {
	case "STOP":
		return ir.FinishStop
	case "MAX_TOKENS":
		return ir.FinishLength
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
		return ir.FinishContentFilter
	case "":
		return ""
	default:
		return ir.FinishReason(strings.ToLower(s))
	}
}

// finishReasonToWire upper-cases the IR finish_reason, translating
// tool_calls to Gemini's "STOP" since Gemini has no dedicated tool-call
// terminator — the function call itself is the signal.
func finishReasonToWire(r ir.FinishReason) string {
	switch r {
	case ir.FinishToolCalls:
		return "STOP"
	case "":
		return "STOP"
	default:
		return strings.ToUpper(string(r))
	}
}

func usageFromWire(u UsageMetadata) ir.Usage {
	return ir.Usage{
		InputTokens:     u.PromptTokenCount,
		OutputTokens:    u.CandidatesTokenCount,
		TotalTokens:     u.TotalTokenCount,
		ReasoningTokens: u.ThoughtsTokenCount,
		CachedTokens:    u.CachedContentTokenCount,
	}
}

func usageToWire(u ir.Usage) *UsageMetadata {
	return &UsageMetadata{
		PromptTokenCount:        u.InputTokens,
		CandidatesTokenCount:    u.OutputTokens,
		TotalTokenCount:         u.TotalTokens,
		ThoughtsTokenCount:      u.ReasoningTokens,
		CachedContentTokenCount: u.CachedTokens,
	}
}

// TransformResponse decodes a unary GenerateContent reply into IR. Text
// parts tagged thought:true accumulate into reasoning_content; others
// into content. A thoughtSignature on any part is captured.
func TransformResponse(raw []byte) (ir.Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ir.Response{}, fmt.Errorf("decode generateContent response: %w", ir.ErrUpstreamProtocolViolation)
	}
	if len(resp.Candidates) == 0 {
		return ir.Response{}, fmt.Errorf("generateContent response has no candidates: %w", ir.ErrUpstreamProtocolViolation)
	}

	cand := resp.Candidates[0]
	out := ir.Response{Model: resp.ModelVersion, FinishReason: finishReasonFromWire(cand.FinishReason)}

	var text, reasoning, signature string
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			out.ToolCalls = append(out.ToolCalls, ir.ToolCall{Name: p.FunctionCall.Name, Arguments: string(p.FunctionCall.Args)})
		case p.Thought:
			reasoning += p.Text
		default:
			text += p.Text
		}
		if p.ThoughtSignature != "" {
			signature = p.ThoughtSignature
		}
	}
	if text != "" {
		out.Content = &text
	}
	out.ReasoningContent = reasoning
	if reasoning != "" || signature != "" {
		out.Thinking = &ir.Thinking{Content: reasoning, Signature: signature}
	}

	if resp.UsageMetadata != nil {
		out.Usage = usageFromWire(*resp.UsageMetadata)
	}

	return out, nil
}

// FormatResponse encodes an IR response into a GenerateContent client
// reply. In bypass mode (ingress format == egress format) it returns the
// untransformed upstream body verbatim.
func FormatResponse(resp ir.Response) ([]byte, error) {
	if resp.Bypass {
		return resp.RawResponse, nil
	}

	var parts []Part

	if resp.Thinking != nil && resp.Thinking.Content != "" {
		parts = append(parts, Part{Text: resp.Thinking.Content, Thought: true, ThoughtSignature: resp.Thinking.Signature})
	}
	if resp.Content != nil && *resp.Content != "" {
		parts = append(parts, Part{Text: *resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		args := json.RawMessage(tc.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		parts = append(parts, Part{FunctionCall: &FunctionCall{Name: tc.Name, Args: args}})
	}

	out := Response{
		Candidates: []Candidate{{
			Content:      Content{Role: "model", Parts: parts},
			FinishReason: finishReasonToWire(resp.FinishReason),
		}},
		UsageMetadata: usageToWire(resp.Usage),
		ModelVersion:  resp.Model,
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal generateContent response: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}
