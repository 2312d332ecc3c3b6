package chat

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/gateway/internal/ir"
)

// finishReasonFromWire maps a Chat Completions finish_reason string to IR.
// Unrecognized values pass through unchanged as a provider-specific
// string, per the IR's finite-enum-or-pass-through contract.
func finishReasonFromWire(s string) ir.FinishReason {
	switch s {
	case "stop":
		return ir.FinishStop
	case "length":
		return ir.FinishLength
	case "tool_calls":
		return ir.FinishToolCalls
	case "content_filter":
		return ir.FinishContentFilter
	default:
		return ir.FinishReason(s)
	}
}

func finishReasonToWire(r ir.FinishReason) string {
	return string(r)
}

// contentAsPlainText extracts a response message's content as a plain
// string when it is one; upstream replies never send the multi-part
// content-array shape that requests can, so anything else is absent.
func contentAsPlainText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// TransformResponse decodes a unary Chat Completions reply into IR.
func TransformResponse(raw []byte) (ir.Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ir.Response{}, fmt.Errorf("decode chat completions response: %w", ir.ErrUpstreamProtocolViolation)
	}
	if len(resp.Choices) == 0 {
		return ir.Response{}, fmt.Errorf("chat completions response has no choices: %w", ir.ErrUpstreamProtocolViolation)
	}

	choice := resp.Choices[0]
	out := ir.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Created:      resp.Created,
		FinishReason: finishReasonFromWire(choice.FinishReason),
	}

	if text, ok := contentAsPlainText(choice.Message.Content); ok {
		out.Content = &text
	}

	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ir.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	if resp.Usage != nil {
		out.Usage = usageFromWire(*resp.Usage)
	}

	return out, nil
}

// usageFromWire implements the subtraction arithmetic: prompt/completion
// token totals are split into cache/reasoning components.
func usageFromWire(u Usage) ir.Usage {
	cached := 0
	if u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	reasoning := 0
	if u.CompletionTokensDetails != nil {
		reasoning = u.CompletionTokensDetails.ReasoningTokens
	}

	input := u.PromptTokens - cached
	if input < 0 {
		input = 0
	}
	output := u.CompletionTokens - reasoning
	if output < 0 {
		output = 0
	}

	return ir.Usage{
		InputTokens:     input,
		OutputTokens:    output,
		ReasoningTokens: reasoning,
		CachedTokens:    cached,
		TotalTokens:     input + cached + output + reasoning,
	}
}

// usageToWire is the inverse: recombine IR's split accounting back into
// Chat Completions' prompt/completion totals plus nested details.
func usageToWire(u ir.Usage) *Usage {
	out := &Usage{
		PromptTokens:     u.InputTokens + u.CachedTokens,
		CompletionTokens: u.OutputTokens + u.ReasoningTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CachedTokens > 0 {
		out.PromptTokensDetails = &PromptTokensDetails{CachedTokens: u.CachedTokens}
	}
	if u.ReasoningTokens > 0 {
		out.CompletionTokensDetails = &CompletionTokensDetails{ReasoningTokens: u.ReasoningTokens}
	}
	return out
}

// FormatResponse encodes an IR response into a Chat Completions client
// reply. In bypass mode (ingress format == egress format) it returns the
// untransformed upstream body verbatim, so a client never sees fields
// narrowed by the Response struct's wire-agnostic shape.
func FormatResponse(resp ir.Response) ([]byte, error) {
	if resp.Bypass {
		return resp.RawResponse, nil
	}

	msg := Message{Role: string(ir.RoleAssistant)}

	if resp.Content != nil {
		raw, err := json.Marshal(*resp.Content)
		if err != nil {
			return nil, fmt.Errorf("marshal response content: %w", ir.ErrInternalInvariant)
		}
		msg.Content = raw
	} else {
		raw, _ := json.Marshal(nil)
		msg.Content = raw
	}

	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}

	out := Response{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReasonToWire(resp.FinishReason),
		}},
		Usage: usageToWire(resp.Usage),
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions response: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}
