package chat

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/gateway/internal/ir"
)

// ParseRequest decodes a Chat Completions request body into IR.
func ParseRequest(raw []byte) (ir.Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ir.Request{}, fmt.Errorf("decode chat completions request: %w", ir.ErrMalformedRequest)
	}

	messages := make([]ir.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		im, err := parseMessage(m)
		if err != nil {
			return ir.Request{}, err
		}
		messages = append(messages, im)
	}

	out := ir.Request{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ir.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  decodeSchema(t.Function.Parameters),
		})
	}

	if tc, err := parseToolChoice(req.ToolChoice); err == nil && tc != nil {
		out.ToolChoice = tc
	} else if err != nil {
		return ir.Request{}, err
	}

	if req.ResponseFormat != nil {
		rf := &ir.ResponseFormat{Type: ir.ResponseFormatType(req.ResponseFormat.Type)}
		if req.ResponseFormat.JSONSchema != nil {
			rf.Schema = decodeSchema(req.ResponseFormat.JSONSchema.Schema)
		}
		out.ResponseFormat = rf
	}

	if req.ReasoningEffort != "" {
		out.Reasoning = &ir.Reasoning{Effort: ir.ReasoningEffort(req.ReasoningEffort), Enabled: true}
	}

	return out, nil
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
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("decode tool_choice: %w", ir.ErrMalformedRequest)
	}
	return &ir.ToolChoice{Mode: ir.ToolChoiceNamed, Name: named.Function.Name}, nil
}

func parseMessage(m Message) (ir.Message, error) {
	role := ir.Role(m.Role)

	content, err := decodeContent(m.Content)
	if err != nil {
		return ir.Message{}, err
	}

	out := ir.Message{
		Role:       role,
		Content:    content,
		ToolCallID: m.ToolCallID,
	}

	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ir.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return out, nil
}

// decodeContent interprets the union type used for Message.Content and
// ContentPart's image_url content: null, a bare string, or an array of
// typed parts.
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
		return ir.Content{}, fmt.Errorf("decode message content: %w", ir.ErrMalformedRequest)
	}

	out := make([]ir.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, ir.Part{Type: ir.PartText, Text: p.Text})
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			out = append(out, ir.Part{Type: ir.PartImage, URL: url})
		}
	}
	return ir.Content{Parts: out}, nil
}

// BuildRequest encodes an IR request into a Chat Completions upstream
// payload. The inverse of ParseRequest; only fails on an invariant
// violation in the IR itself (never on well-formed input).
func BuildRequest(req ir.Request) ([]byte, error) {
	out := Request{
		Model:    req.Model,
		Messages: make([]Message, 0, len(req.Messages)),
		Stream:   req.Stream,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	out.Temperature = req.Temperature

	for _, m := range req.Messages {
		wm, err := buildMessage(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, wm)
	}

	for _, t := range req.Tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal tool parameters: %w", ir.ErrInternalInvariant)
		}
		out.Tools = append(out.Tools, Tool{
			Type:     "function",
			Function: Function{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}

	if req.ToolChoice != nil {
		raw, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = raw
	}

	if req.ResponseFormat != nil {
		rf := &ResponseFormat{Type: string(req.ResponseFormat.Type)}
		if req.ResponseFormat.Schema != nil {
			schema, err := json.Marshal(req.ResponseFormat.Schema)
			if err != nil {
				return nil, fmt.Errorf("marshal response_format schema: %w", ir.ErrInternalInvariant)
			}
			rf.JSONSchema = &JSONSchemaSpec{Schema: schema}
		}
		out.ResponseFormat = rf
	}

	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		out.ReasoningEffort = string(req.Reasoning.Effort)
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions request: %w", ir.ErrInternalInvariant)
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
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		})
	default:
		return nil, fmt.Errorf("unknown tool choice mode %q: %w", tc.Mode, ir.ErrInternalInvariant)
	}
}

func buildMessage(m ir.Message) (Message, error) {
	out := Message{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
	}

	content, err := encodeContent(m.Content)
	if err != nil {
		return Message{}, err
	}
	out.Content = content

	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}

	return out, nil
}

func encodeContent(c ir.Content) (json.RawMessage, error) {
	if c.IsNull {
		return json.Marshal(nil)
	}
	if !c.HasParts() {
		return json.Marshal(c.Text)
	}

	parts := make([]ContentPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case ir.PartText:
			parts = append(parts, ContentPart{Type: "text", Text: p.Text})
		case ir.PartImage:
			url := p.URL
			if url == "" && p.InlineData != "" {
				url = fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.InlineData)
			}
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		}
	}

	raw, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("marshal content parts: %w", ir.ErrInternalInvariant)
	}
	return raw, nil
}
