package responses

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/gateway/internal/ir"
)

// ParseRequest decodes a Responses request body into IR. input may be a
// bare string (one user message) or an array of typed items; instructions,
// if present, becomes the leading system message.
func ParseRequest(raw []byte) (ir.Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ir.Request{}, fmt.Errorf("decode responses request: %w", ir.ErrMalformedRequest)
	}

	out := ir.Request{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	}

	if req.Instructions != "" {
		out.Messages = append(out.Messages, ir.Message{Role: ir.RoleSystem, Content: ir.Content{Text: req.Instructions}})
	}

	items, err := decodeInput(req.Input)
	if err != nil {
		return ir.Request{}, err
	}
	for _, item := range items {
		msg, err := parseItem(item)
		if err != nil {
			return ir.Request{}, err
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		if t.Type != "function" {
			continue // built-in tool types carry no IR representation
		}
		out.Tools = append(out.Tools, ir.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  decodeSchema(t.Parameters),
		})
	}

	if tc, err := parseToolChoice(req.ToolChoice); err != nil {
		return ir.Request{}, err
	} else if tc != nil {
		out.ToolChoice = tc
	}

	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		out.Reasoning = &ir.Reasoning{Effort: ir.ReasoningEffort(req.Reasoning.Effort), Enabled: true}
	}

	return out, nil
}

// decodeInput interprets the union type used for Request.Input: absent,
// a bare string (one user message with an input_text part), or an array
// of typed items.
func decodeInput(raw json.RawMessage) ([]Item, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		content, _ := json.Marshal([]ContentPart{{Type: "input_text", Text: asString}})
		return []Item{{Type: "message", Role: "user", Content: content}}, nil
	}

	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode input: %w", ir.ErrMalformedRequest)
	}
	return items, nil
}

func decodeSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func parseToolChoice(raw json.RawMessage) (*ir.ToolChoice, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "auto":
			return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}, nil
		case "none":
			return &ir.ToolChoice{Mode: ir.ToolChoiceNone}, nil
		case "required":
			return &ir.ToolChoice{Mode: ir.ToolChoiceRequired}, nil
		}
		return nil, fmt.Errorf("unknown tool_choice %q: %w", asString, ir.ErrMalformedRequest)
	}

	var named struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("decode tool_choice: %w", ir.ErrMalformedRequest)
	}
	return &ir.ToolChoice{Mode: ir.ToolChoiceNamed, Name: named.Name}, nil
}

// parseItem dispatches one input item to its IR message shape.
// message: role mapping {developer,system→system; assistant→assistant;
// tool→tool; user or unknown→user}. function_call becomes an assistant
// message with a single tool call and null content. function_call_output
// becomes a tool message. reasoning.summary[] joins into a lossy assistant
// message (acknowledged information loss: the structured summary is
// flattened to plain text).
func parseItem(item Item) (ir.Message, error) {
	switch item.Type {
	case "function_call":
		return ir.Message{
			Role:    ir.RoleAssistant,
			Content: ir.Content{IsNull: true},
			ToolCalls: []ir.ToolCall{{
				ID: item.CallID, Name: item.Name, Arguments: item.Arguments,
			}},
		}, nil

	case "function_call_output":
		return ir.Message{
			Role:       ir.RoleTool,
			Content:    ir.Content{Text: item.Output},
			ToolCallID: item.CallID,
		}, nil

	case "reasoning":
		var text string
		for _, s := range item.Summary {
			text += s.Text
		}
		return ir.Message{Role: ir.RoleAssistant, Content: ir.Content{Text: text}}, nil

	default: // "message" or unrecognized
		role := ir.RoleUser
		switch item.Role {
		case "developer", "system":
			role = ir.RoleSystem
		case "assistant":
			role = ir.RoleAssistant
		case "tool":
			role = ir.RoleTool
		}
		content, err := decodeContent(item.Content)
		if err != nil {
			return ir.Message{}, err
		}
		return ir.Message{Role: role, Content: content}, nil
	}
}

// decodeContent interprets a message item's content union: null, a bare
// string, or an array of typed parts.
func decodeContent(raw json.RawMessage) (ir.Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ir.Content{IsNull: true}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return ir.Content{Text: asString}, nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ir.Content{}, fmt.Errorf("decode item content: %w", ir.ErrMalformedRequest)
	}

	out := make([]ir.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text":
			out = append(out, ir.Part{Type: ir.PartText, Text: p.Text})
		case "input_image":
			out = append(out, ir.Part{Type: ir.PartImage, URL: p.ImageURL})
		}
	}
	return ir.Content{Parts: out}, nil
}

// BuildRequest encodes an IR request into a Responses upstream payload.
// The inverse of ParseRequest: a leading system message is lifted into
// top-level instructions; every other message becomes one or more input
// items (see buildItems).
func BuildRequest(req ir.Request) ([]byte, error) {
	out := Request{
		Model:           req.Model,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		Stream:          req.Stream,
	}

	messages := req.Messages
	if len(messages) > 0 && messages[0].Role == ir.RoleSystem {
		out.Instructions = messages[0].Content.Text
		messages = messages[1:]
	}

	var items []Item
	for _, m := range messages {
		ims, err := buildItems(m)
		if err != nil {
			return nil, err
		}
		items = append(items, ims...)
	}
	if items != nil {
		input, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("marshal input items: %w", ir.ErrInternalInvariant)
		}
		out.Input = input
	}

	for _, t := range req.Tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal tool parameters: %w", ir.ErrInternalInvariant)
		}
		out.Tools = append(out.Tools, Tool{Type: "function", Name: t.Name, Description: t.Description, Parameters: params})
	}

	if req.ToolChoice != nil {
		raw, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = raw
	}

	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		out.Reasoning = &ReasoningConfig{Effort: string(req.Reasoning.Effort)}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}

func encodeToolChoice(tc ir.ToolChoice) (json.RawMessage, error) {
	switch tc.Mode {
	case ir.ToolChoiceAuto:
		return json.Marshal("auto")
	case ir.ToolChoiceNone:
		return json.Marshal("none")
	case ir.ToolChoiceRequired:
		return json.Marshal("required")
	case ir.ToolChoiceNamed:
		return json.Marshal(map[string]any{"type": "function", "name": tc.Name})
	default:
		return nil, fmt.Errorf("unknown tool choice mode %q: %w", tc.Mode, ir.ErrInternalInvariant)
	}
}

// buildItems converts one IR message into its wire item(s). A tool-role
// message becomes a function_call_output. Any other message yields, in
// order: a reasoning item if it carries thinking content, a message item
// if it has visible content, and one function_call item per tool call.
func buildItems(m ir.Message) ([]Item, error) {
	if m.Role == ir.RoleTool {
		return []Item{{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content.Text}}, nil
	}

	var items []Item

	if m.Thinking != nil && m.Thinking.Content != "" {
		items = append(items, Item{Type: "reasoning", Summary: []SummaryPart{{Type: "summary_text", Text: m.Thinking.Content}}})
	}

	hasContent := !m.Content.IsNull && (m.Content.Text != "" || m.Content.HasParts())
	if hasContent {
		content, err := encodeContent(m.Content, m.Role)
		if err != nil {
			return nil, err
		}
		role := string(m.Role)
		if role == "" {
			role = "user"
		}
		items = append(items, Item{Type: "message", Role: role, Content: content})
	}

	for _, tc := range m.ToolCalls {
		items = append(items, Item{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}

	return items, nil
}

func encodeContent(c ir.Content, role ir.Role) (json.RawMessage, error) {
	textType := "input_text"
	if role == ir.RoleAssistant {
		textType = "output_text"
	}

	if !c.HasParts() {
		parts := []ContentPart{{Type: textType, Text: c.Text}}
		raw, err := json.Marshal(parts)
		if err != nil {
			return nil, fmt.Errorf("marshal content: %w", ir.ErrInternalInvariant)
		}
		return raw, nil
	}

	parts := make([]ContentPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case ir.PartText:
			parts = append(parts, ContentPart{Type: textType, Text: p.Text})
		case ir.PartImage:
			url := p.URL
			if url == "" && p.InlineData != "" {
				url = fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.InlineData)
			}
			parts = append(parts, ContentPart{Type: "input_image", ImageURL: url})
		}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("marshal content parts: %w", ir.ErrInternalInvariant)
	}
	return raw, nil
}
