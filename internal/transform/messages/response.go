package messages

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/tokencount"
)

func stopReasonFromWire(s string) ir.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return ir.FinishStop
	case "max_tokens":
		return ir.FinishLength
	case "tool_use":
		return ir.FinishToolCalls
	default:
		return ir.FinishReason(s)
	}
}

// stopReasonToWire maps IR finish reasons back to Anthropic's stop_reason
// vocabulary. tool_use wins whenever tool calls are present, regardless of
// what finish reason accompanied them.
func stopReasonToWire(r ir.FinishReason, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_use"
	}
	switch r {
	case ir.FinishLength:
		return "max_tokens"
	case ir.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// TransformResponse decodes a unary Messages reply into IR, imputing the
// reasoning/text split out of Anthropic's single combined output_tokens
// count (see imputeUsage).
func TransformResponse(raw []byte) (ir.Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ir.Response{}, fmt.Errorf("decode messages response: %w", ir.ErrUpstreamProtocolViolation)
	}

	out := ir.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: stopReasonFromWire(resp.StopReason),
	}

	var text, reasoning string
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text += b.Text
		case "thinking":
			reasoning += b.Thinking
			if b.Signature != "" {
				out.Thinking = &ir.Thinking{Content: reasoning, Signature: b.Signature}
			}
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ir.ToolCall{ID: b.ID, Name: b.Name, Arguments: string(b.Input)})
		}
	}
	if text != "" {
		out.Content = &text
	}
	out.ReasoningContent = reasoning

	out.Usage = imputeUsage(resp.Usage, text, reasoning)

	return out, nil
}

// imputeUsage splits Anthropic's combined output_tokens into text vs.
// reasoning. When thinking content is present, the visible text's token
// count (per the shared heuristic counter) is attributed to output_tokens
// and the remainder of output_tokens to reasoning_tokens; when reasoning
// is empty all output_tokens are text.
func imputeUsage(u Usage, text, reasoningText string) ir.Usage {
	out := ir.Usage{
		InputTokens:         u.InputTokens,
		CachedTokens:        u.CacheReadInputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
	}

	if reasoningText == "" {
		out.OutputTokens = u.OutputTokens
	} else {
		textTokens := tokencount.Count(text)
		if textTokens > u.OutputTokens {
			textTokens = u.OutputTokens
		}
		out.OutputTokens = textTokens
		out.ReasoningTokens = u.OutputTokens - textTokens
	}

	out.TotalTokens = out.InputTokens + out.OutputTokens + out.ReasoningTokens
	return out
}

// FormatResponse encodes an IR response into an Anthropic Messages client
// reply. Tool-call arguments that fail to parse as JSON are wrapped
// {raw_arguments: <string>} rather than raising. In bypass mode (ingress
// format == egress format) it returns the untransformed upstream body
// verbatim.
func FormatResponse(resp ir.Response) ([]byte, error) {
	if resp.Bypass {
		return resp.RawResponse, nil
	}

	var blocks []ContentBlock

	if resp.Thinking != nil && resp.Thinking.Content != "" {
		blocks = append(blocks, ContentBlock{Type: "thinking", Thinking: resp.Thinking.Content, Signature: resp.Thinking.Signature})
	}
	if resp.Content != nil && *resp.Content != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: *resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		input := toolCallInput(tc.Arguments)
		blocks = append(blocks, ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}

	out := Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       string(ir.RoleAssistant),
		Content:    blocks,
		Model:      resp.Model,
		StopReason: stopReasonToWire(resp.FinishReason, len(resp.ToolCalls) > 0),
		Usage:      usageToWire(resp.Usage),
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal messages response: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}

// toolCallInput parses arguments as JSON for the input field; malformed
// JSON is wrapped rather than propagated as an error, per the
// tool-argument-malformed handling contract.
func toolCallInput(arguments string) json.RawMessage {
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	wrapped, err := json.Marshal(map[string]string{"raw_arguments": arguments})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

// usageToWire reports input_tokens excluding the cached portion on the
// wire, per the Anthropic formatter's documented (if not universally
// observed) convention; cache counts ride in their own fields.
func usageToWire(u ir.Usage) Usage {
	inputWire := u.InputTokens - u.CachedTokens
	if inputWire < 0 {
		inputWire = 0
	}
	return Usage{
		InputTokens:              inputWire,
		OutputTokens:             u.OutputTokens + u.ReasoningTokens,
		CacheReadInputTokens:     u.CachedTokens,
		CacheCreationInputTokens: u.CacheCreationTokens,
		ThinkingTokens:           u.ReasoningTokens,
	}
}
