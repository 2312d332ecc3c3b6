package responses

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/gateway/internal/ir"
)

// TransformResponse decodes a unary Responses reply into IR, folding the
// reasoning/message/function_call output items into the IR's flat shape.
func TransformResponse(raw []byte) (ir.Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ir.Response{}, fmt.Errorf("decode responses response: %w", ir.ErrUpstreamProtocolViolation)
	}

	out := ir.Response{ID: resp.ID, Model: resp.Model, Created: resp.CreatedAt}

	var text string
	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			var summary string
			for _, s := range item.Summary {
				summary += s.Text
			}
			out.ReasoningContent = summary
			if summary != "" {
				out.Thinking = &ir.Thinking{Content: summary}
			}
		case "message":
			parts, err := decodeOutputContent(item.Content)
			if err != nil {
				return ir.Response{}, err
			}
			text += parts
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, ir.ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
		}
	}
	if text != "" {
		out.Content = &text
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = ir.FinishToolCalls
	case resp.Status == "incomplete":
		out.FinishReason = ir.FinishLength
	default:
		out.FinishReason = ir.FinishStop
	}

	if resp.Usage != nil {
		out.Usage = usageFromWire(*resp.Usage)
	}

	return out, nil
}

func decodeOutputContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("decode message item content: %w", ir.ErrUpstreamProtocolViolation)
	}
	var text string
	for _, p := range parts {
		text += p.Text
	}
	return text, nil
}

// usageFromWire inverts FormatResponse's mapping: the wire's input_tokens
// counts cached tokens in with the rest, so the IR's input_tokens is the
// remainder.
func usageFromWire(u Usage) ir.Usage {
	cached := 0
	if u.InputTokensDetails != nil {
		cached = u.InputTokensDetails.CachedTokens
	}
	reasoning := 0
	if u.OutputTokensDetails != nil {
		reasoning = u.OutputTokensDetails.ReasoningTokens
	}
	input := u.InputTokens - cached
	if input < 0 {
		input = 0
	}
	return ir.Usage{
		InputTokens:     input,
		OutputTokens:    u.OutputTokens,
		TotalTokens:     u.TotalTokens,
		ReasoningTokens: reasoning,
		CachedTokens:    cached,
	}
}

// usageToWire folds cached tokens into the wire's input_tokens total,
// per the Responses API's accounting convention.
func usageToWire(u ir.Usage) *Usage {
	return &Usage{
		InputTokens:         u.InputTokens + u.CachedTokens,
		InputTokensDetails:  &InputTokensDetails{CachedTokens: u.CachedTokens},
		OutputTokens:        u.OutputTokens,
		OutputTokensDetails: &OutputTokensDetails{ReasoningTokens: u.ReasoningTokens},
		TotalTokens:         u.TotalTokens,
	}
}

// FormatResponse encodes an IR response into a Responses client reply:
// an optional reasoning item, then one function_call item per tool call,
// then one message item, in that order. In bypass mode (ingress format ==
// egress format) it returns the untransformed upstream body verbatim.
func FormatResponse(resp ir.Response) ([]byte, error) {
	if resp.Bypass {
		return resp.RawResponse, nil
	}

	var output []Item

	if resp.Thinking != nil && resp.Thinking.Content != "" {
		output = append(output, Item{
			Type: "reasoning", ID: "rs_" + resp.ID,
			Summary: []SummaryPart{{Type: "summary_text", Text: resp.Thinking.Content}},
		})
	}

	for _, tc := range resp.ToolCalls {
		output = append(output, Item{
			Type: "function_call", ID: "fc_" + tc.ID, CallID: tc.ID,
			Name: tc.Name, Arguments: tc.Arguments, Status: "completed",
		})
	}

	if resp.Content != nil && *resp.Content != "" {
		content, err := json.Marshal([]ContentPart{{Type: "output_text", Text: *resp.Content}})
		if err != nil {
			return nil, fmt.Errorf("marshal message content: %w", ir.ErrInternalInvariant)
		}
		output = append(output, Item{Type: "message", ID: "msg_" + resp.ID, Role: "assistant", Content: content, Status: "completed"})
	}

	status := "completed"
	if resp.FinishReason == ir.FinishLength {
		status = "incomplete"
	}

	out := Response{
		ID: resp.ID, Object: "response", CreatedAt: resp.Created, Model: resp.Model,
		Status: status, Output: output, Usage: usageToWire(resp.Usage),
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal responses response: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}
