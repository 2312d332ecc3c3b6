package messages

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/gateway/internal/ir"
)

// ParseRequest decodes an Anthropic Messages request into IR. The system
// field, if present, becomes the leading IR system message; tool_result
// blocks on a user message are split out into separate tool-role IR
// messages, one per result, and any remaining parts re-emerge as one user
// message.
func ParseRequest(raw []byte) (ir.Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ir.Request{}, fmt.Errorf("decode messages request: %w", ir.ErrMalformedRequest)
	}

	out := ir.Request{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}

	if len(req.System) > 0 {
		sysText, err := systemToText(req.System)
		if err != nil {
			return ir.Request{}, err
		}
		if sysText != "" {
			out.Messages = append(out.Messages, ir.Message{Role: ir.RoleSystem, Content: ir.Content{Text: sysText}})
		}
	}

	for _, m := range req.Messages {
		msgs, err := parseMessage(m)
		if err != nil {
			return ir.Request{}, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, t := range req.Tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return ir.Request{}, fmt.Errorf("decode tool input_schema: %w", ir.ErrMalformedRequest)
			}
		}
		out.Tools = append(out.Tools, ir.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: schema})
	}

	if req.ToolChoice != nil {
		out.ToolChoice = parseToolChoice(*req.ToolChoice)
	}

	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		out.Reasoning = &ir.Reasoning{Enabled: true, MaxTokens: req.Thinking.BudgetTokens}
	}

	return out, nil
}

func parseToolChoice(tc ToolChoice) *ir.ToolChoice {
	switch tc.Type {
	case "auto":
		return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
	case "none":
		return &ir.ToolChoice{Mode: ir.ToolChoiceNone}
	case "any":
		return &ir.ToolChoice{Mode: ir.ToolChoiceRequired}
	case "tool":
		return &ir.ToolChoice{Mode: ir.ToolChoiceNamed, Name: tc.Name}
	default:
		return nil
	}
}

func systemToText(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("decode system field: %w", ir.ErrMalformedRequest)
	}
	text := ""
	for _, b := range blocks {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text, nil
}

// parseMessage may yield more than one IR message: tool_result blocks
// split out into their own tool-role messages.
func parseMessage(m Message) ([]ir.Message, error) {
	role := ir.Role(m.Role)

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return []ir.Message{{Role: role, Content: ir.Content{Text: asString}}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("decode message content: %w", ir.ErrMalformedRequest)
	}

	var toolResults []ir.Message
	var remaining []ir.Part
	var thinking *ir.Thinking
	var toolCalls []ir.ToolCall

	for _, b := range blocks {
		switch b.Type {
		case "text":
			part := ir.Part{Type: ir.PartText, Text: b.Text}
			if b.CacheControl != nil {
				tag := b.CacheControl.Type
				part.CacheControl = &tag
			}
			remaining = append(remaining, part)
		case "image":
			part := ir.Part{Type: ir.PartImage}
			if b.Source != nil {
				part.URL = b.Source.URL
				part.InlineData = b.Source.Data
				part.MediaType = b.Source.MediaType
			}
			remaining = append(remaining, part)
		case "thinking":
			thinking = &ir.Thinking{Content: b.Thinking, Signature: b.Signature}
		case "tool_use":
			toolCalls = append(toolCalls, ir.ToolCall{ID: b.ID, Name: b.Name, Arguments: string(b.Input)})
		case "tool_result":
			text, err := toolResultToText(b.Content)
			if err != nil {
				return nil, err
			}
			toolResults = append(toolResults, ir.Message{
				Role:       ir.RoleTool,
				Content:    ir.Content{Text: text},
				ToolCallID: b.ToolUseID,
			})
		}
	}

	var out []ir.Message
	out = append(out, toolResults...)

	if len(remaining) > 0 || thinking != nil || len(toolCalls) > 0 {
		msg := ir.Message{Role: role, Thinking: thinking, ToolCalls: toolCalls}
		if len(remaining) == 1 && remaining[0].Type == ir.PartText && remaining[0].CacheControl == nil {
			msg.Content = ir.Content{Text: remaining[0].Text}
		} else if len(remaining) > 0 {
			msg.Content = ir.Content{Parts: remaining}
		} else {
			msg.Content = ir.Content{IsNull: true}
		}
		out = append(out, msg)
	}

	return out, nil
}

func toolResultToText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("decode tool_result content: %w", ir.ErrMalformedRequest)
	}
	text := ""
	for _, b := range blocks {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text, nil
}

// BuildRequest encodes an IR request into an Anthropic Messages upstream
// payload. Consecutive messages of the same role are merged by
// concatenating their content parts, since Anthropic rejects consecutive
// same-role messages. System is lifted into the top-level field.
// max_tokens defaults to 4096 when absent.
func BuildRequest(req ir.Request) ([]byte, error) {
	out := Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}
	out.Temperature = req.Temperature

	var system string
	var chatMessages []ir.Message
	for _, m := range req.Messages {
		if m.Role == ir.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content.Text
			continue
		}
		chatMessages = append(chatMessages, m)
	}
	if system != "" {
		sysRaw, err := json.Marshal(system)
		if err != nil {
			return nil, fmt.Errorf("marshal system field: %w", ir.ErrInternalInvariant)
		}
		out.System = sysRaw
	}

	wireMessages, err := buildMessages(chatMessages)
	if err != nil {
		return nil, err
	}
	out.Messages = wireMessages

	for _, t := range req.Tools {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal tool input_schema: %w", ir.ErrInternalInvariant)
		}
		out.Tools = append(out.Tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	if req.ToolChoice != nil {
		out.ToolChoice = encodeToolChoice(*req.ToolChoice)
	}

	if req.Reasoning != nil && req.Reasoning.Enabled {
		budget := req.Reasoning.MaxTokens
		if budget == 0 {
			budget = 1024
		}
		out.Thinking = &ThinkingConfig{Type: "enabled", BudgetTokens: budget}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal messages request: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}

func encodeToolChoice(tc ir.ToolChoice) *ToolChoice {
	switch tc.Mode {
	case ir.ToolChoiceAuto:
		return &ToolChoice{Type: "auto"}
	case ir.ToolChoiceNone:
		return &ToolChoice{Type: "none"}
	case ir.ToolChoiceRequired:
		return &ToolChoice{Type: "any"}
	case ir.ToolChoiceNamed:
		return &ToolChoice{Type: "tool", Name: tc.Name}
	default:
		return nil
	}
}

// buildMessages converts IR messages straight into wire Messages,
// merging consecutive messages that land on the same Anthropic role by
// concatenating their content-block arrays (Anthropic rejects consecutive
// same-role messages). Tool-role IR messages become a user message
// carrying a single tool_result block.
func buildMessages(msgs []ir.Message) ([]Message, error) {
	var out []Message

	for _, m := range msgs {
		role := "user"
		if m.Role == ir.RoleAssistant {
			role = "assistant"
		}

		blocks, err := buildBlocks(m)
		if err != nil {
			return nil, err
		}

		if len(out) > 0 && out[len(out)-1].Role == role {
			last := &out[len(out)-1]
			var lastBlocks []ContentBlock
			if err := json.Unmarshal(last.Content, &lastBlocks); err != nil {
				return nil, fmt.Errorf("decode prior content block for merge: %w", ir.ErrInternalInvariant)
			}
			raw, err := json.Marshal(append(lastBlocks, blocks...))
			if err != nil {
				return nil, fmt.Errorf("marshal merged content blocks: %w", ir.ErrInternalInvariant)
			}
			last.Content = raw
			continue
		}

		raw, err := json.Marshal(blocks)
		if err != nil {
			return nil, fmt.Errorf("marshal content blocks: %w", ir.ErrInternalInvariant)
		}
		out = append(out, Message{Role: role, Content: raw})
	}

	return out, nil
}

// buildBlocks converts one IR message's content (plus thinking/tool-calls
// for assistant messages, or tool-result shape for tool messages) into
// its ordered wire content-block list.
func buildBlocks(m ir.Message) ([]ContentBlock, error) {
	if m.Role == ir.RoleTool {
		resultRaw, err := json.Marshal(m.Content.Text)
		if err != nil {
			return nil, fmt.Errorf("marshal tool_result content: %w", ir.ErrInternalInvariant)
		}
		return []ContentBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: resultRaw}}, nil
	}

	var blocks []ContentBlock
	if m.Thinking != nil {
		blocks = append(blocks, ContentBlock{Type: "thinking", Thinking: m.Thinking.Content, Signature: m.Thinking.Signature})
	}
	blocks = append(blocks, contentToBlocks(m.Content)...)
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Arguments)})
	}
	return blocks, nil
}

func contentToBlocks(c ir.Content) []ContentBlock {
	if c.IsNull {
		return nil
	}
	if !c.HasParts() {
		if c.Text == "" {
			return nil
		}
		return []ContentBlock{{Type: "text", Text: c.Text}}
	}

	blocks := make([]ContentBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case ir.PartText:
			b := ContentBlock{Type: "text", Text: p.Text}
			if p.CacheControl != nil {
				b.CacheControl = &CacheControl{Type: *p.CacheControl}
			}
			blocks = append(blocks, b)
		case ir.PartImage:
			src := &ImageSource{MediaType: p.MediaType}
			if p.InlineData != "" {
				src.Type = "base64"
				src.Data = p.InlineData
			} else {
				src.Type = "url"
				src.URL = p.URL
			}
			blocks = append(blocks, ContentBlock{Type: "image", Source: src})
		}
	}
	return blocks
}
