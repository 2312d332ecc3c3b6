package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llmrouter/gateway/internal/ir"
)

// GetEndpoint synthesizes the request path: streaming mode picks
// streamGenerateContent with SSE framing, and the model is prefixed with
// "models/" unless it already names a models/ or tunedModels/ resource.
func GetEndpoint(req ir.Request) string {
	model := req.Model
	if !strings.HasPrefix(model, "models/") && !strings.HasPrefix(model, "tunedModels/") {
		model = "models/" + model
	}
	if req.Stream {
		return "/v1beta/" + model + ":streamGenerateContent?alt=sse"
	}
	return "/v1beta/" + model + ":generateContent"
}

// ParseRequest decodes a Gemini GenerateContent request into IR. Role
// mapping is the inverse of BuildRequest: model→assistant, user-with-a-
// functionResponse-part→tool, else→user. Gemini has no first-class system
// role, so systemInstruction becomes the leading IR system message.
func ParseRequest(raw []byte) (ir.Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ir.Request{}, fmt.Errorf("decode generateContent request: %w", ir.ErrMalformedRequest)
	}

	out := ir.Request{}

	if req.SystemInstruction != nil {
		text := joinText(req.SystemInstruction.Parts)
		if text != "" {
			out.Messages = append(out.Messages, ir.Message{Role: ir.RoleSystem, Content: ir.Content{Text: text}})
		}
	}

	for _, c := range req.Contents {
		msg, err := parseContent(c)
		if err != nil {
			return ir.Request{}, err
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			var params map[string]any
			if len(fd.Parameters) > 0 {
				if err := json.Unmarshal(fd.Parameters, &params); err != nil {
					return ir.Request{}, fmt.Errorf("decode function parameters: %w", ir.ErrMalformedRequest)
				}
			}
			out.Tools = append(out.Tools, ir.ToolDefinition{Name: fd.Name, Description: fd.Description, Parameters: params})
		}
	}

	if req.ToolConfig != nil && req.ToolConfig.FunctionCallingConfig != nil {
		out.ToolChoice = parseToolChoiceMode(*req.ToolConfig.FunctionCallingConfig)
	}

	if req.GenerationConfig != nil {
		gc := req.GenerationConfig
		out.MaxTokens = gc.MaxOutputTokens
		out.Temperature = gc.Temperature
		if gc.ThinkingConfig != nil {
			out.Reasoning = &ir.Reasoning{Enabled: gc.ThinkingConfig.IncludeThoughts, MaxTokens: gc.ThinkingConfig.ThinkingBudget}
		}
		if gc.ResponseMimeType == "application/json" {
			rf := &ir.ResponseFormat{Type: ir.ResponseFormatJSONObject}
			if len(gc.ResponseJSONSchema) > 0 {
				var schema map[string]any
				if err := json.Unmarshal(gc.ResponseJSONSchema, &schema); err == nil {
					rf.Type = ir.ResponseFormatJSONSchema
					rf.Schema = schema
				}
			}
			out.ResponseFormat = rf
		}
	}

	return out, nil
}

func parseToolChoiceMode(fc FunctionCallingConfig) *ir.ToolChoice {
	switch fc.Mode {
	case "AUTO":
		return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
	case "NONE":
		return &ir.ToolChoice{Mode: ir.ToolChoiceNone}
	case "ANY":
		if len(fc.AllowedFunctionNames) == 1 {
			return &ir.ToolChoice{Mode: ir.ToolChoiceNamed, Name: fc.AllowedFunctionNames[0]}
		}
		return &ir.ToolChoice{Mode: ir.ToolChoiceRequired}
	default:
		return nil
	}
}

func joinText(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func parseContent(c Content) (ir.Message, error) {
	role := ir.RoleUser
	if c.Role == "model" {
		role = ir.RoleAssistant
	}

	for _, p := range c.Parts {
		if p.FunctionResponse != nil {
			return ir.Message{
				Role:       ir.RoleTool,
				Content:    ir.Content{Text: string(p.FunctionResponse.Response)},
				ToolCallID: p.FunctionResponse.Name,
				ToolName:   p.FunctionResponse.Name,
			}, nil
		}
	}

	msg := ir.Message{Role: role}

	var parts []ir.Part
	var thinkingText, signature string
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{Name: p.FunctionCall.Name, Arguments: string(p.FunctionCall.Args)})
			if p.ThoughtSignature != "" {
				signature = p.ThoughtSignature
			}
		case p.Thought:
			thinkingText += p.Text
			if p.ThoughtSignature != "" {
				signature = p.ThoughtSignature
			}
		case p.InlineData != nil:
			parts = append(parts, ir.Part{Type: ir.PartImage, InlineData: p.InlineData.Data, MediaType: p.InlineData.MimeType})
		case p.FileData != nil:
			parts = append(parts, ir.Part{Type: ir.PartImage, URL: p.FileData.URI, MediaType: p.FileData.MimeType})
		default:
			parts = append(parts, ir.Part{Type: ir.PartText, Text: p.Text})
		}
	}

	if thinkingText != "" || signature != "" {
		msg.Thinking = &ir.Thinking{Content: thinkingText, Signature: signature}
	}

	if len(parts) == 1 && parts[0].Type == ir.PartText {
		msg.Content = ir.Content{Text: parts[0].Text}
	} else if len(parts) > 0 {
		msg.Content = ir.Content{Parts: parts}
	} else {
		msg.Content = ir.Content{IsNull: true}
	}

	return msg, nil
}

// BuildRequest encodes an IR request into a Gemini GenerateContent upstream
// payload. Role mapping: assistant→model, system lifted into
// systemInstruction (Gemini has no system role), tool→user content whose
// single part is a functionResponse.
func BuildRequest(req ir.Request) ([]byte, error) {
	out := Request{}

	for _, m := range req.Messages {
		if m.Role == ir.RoleSystem {
			out.SystemInstruction = &Content{Parts: []Part{{Text: m.Content.Text}}}
			continue
		}
		content, err := buildContent(m)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, content)
	}

	for _, t := range req.Tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal function parameters: %w", ir.ErrInternalInvariant)
		}
		if len(out.Tools) == 0 {
			out.Tools = []Tool{{}}
		}
		out.Tools[0].FunctionDeclarations = append(out.Tools[0].FunctionDeclarations, FunctionDeclaration{
			Name: t.Name, Description: t.Description, Parameters: params,
		})
	}

	if req.ToolChoice != nil {
		out.ToolConfig = &ToolConfig{FunctionCallingConfig: encodeToolChoiceMode(*req.ToolChoice)}
	}

	gc := &GenerationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature}
	if req.Reasoning != nil {
		gc.ThinkingConfig = &ThinkingConfig{IncludeThoughts: req.Reasoning.Enabled, ThinkingBudget: req.Reasoning.MaxTokens}
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type != ir.ResponseFormatText {
		gc.ResponseMimeType = "application/json"
		if req.ResponseFormat.Type == ir.ResponseFormatJSONSchema && req.ResponseFormat.Schema != nil {
			schema, err := json.Marshal(req.ResponseFormat.Schema)
			if err != nil {
				return nil, fmt.Errorf("marshal response schema: %w", ir.ErrInternalInvariant)
			}
			gc.ResponseJSONSchema = schema
		}
	}
	out.GenerationConfig = gc

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal generateContent request: %w", ir.ErrInternalInvariant)
	}
	return body, nil
}

func encodeToolChoiceMode(tc ir.ToolChoice) *FunctionCallingConfig {
	switch tc.Mode {
	case ir.ToolChoiceAuto:
		return &FunctionCallingConfig{Mode: "AUTO"}
	case ir.ToolChoiceNone:
		return &FunctionCallingConfig{Mode: "NONE"}
	case ir.ToolChoiceRequired:
		return &FunctionCallingConfig{Mode: "ANY"}
	case ir.ToolChoiceNamed:
		return &FunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.Name}}
	default:
		return nil
	}
}

func buildContent(m ir.Message) (Content, error) {
	if m.Role == ir.RoleTool {
		resp, err := json.Marshal(map[string]string{"content": m.Content.Text})
		if err != nil {
			return Content{}, fmt.Errorf("marshal function response: %w", ir.ErrInternalInvariant)
		}
		name := m.ToolName
		if name == "" {
			name = m.ToolCallID
		}
		return Content{Role: "user", Parts: []Part{{FunctionResponse: &FunctionResponse{Name: name, Response: resp}}}}, nil
	}

	role := "user"
	if m.Role == ir.RoleAssistant {
		role = "model"
	}

	var parts []Part
	firstFuncPartIdx := -1

	if m.Thinking != nil {
		p := Part{Text: m.Thinking.Content, Thought: true}
		if m.Thinking.Signature != "" {
			p.ThoughtSignature = m.Thinking.Signature
		}
		parts = append(parts, p)
	}

	if m.Content.IsNull {
		// no content parts
	} else if m.Content.HasParts() {
		for _, part := range m.Content.Parts {
			parts = append(parts, buildPart(part))
		}
	} else if m.Content.Text != "" {
		parts = append(parts, Part{Text: m.Content.Text})
	}

	for _, tc := range m.ToolCalls {
		args := json.RawMessage(tc.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		if firstFuncPartIdx == -1 {
			firstFuncPartIdx = len(parts)
		}
		parts = append(parts, Part{FunctionCall: &FunctionCall{Name: tc.Name, Args: args}})
	}

	if firstFuncPartIdx >= 0 && m.Thinking != nil && m.Thinking.Signature != "" {
		parts[firstFuncPartIdx].ThoughtSignature = m.Thinking.Signature
	}

	return Content{Role: role, Parts: parts}, nil
}

func buildPart(p ir.Part) Part {
	switch p.Type {
	case ir.PartImage:
		if p.InlineData != "" {
			return Part{InlineData: &Blob{MimeType: p.MediaType, Data: p.InlineData}}
		}
		return Part{FileData: &FileData{MimeType: p.MediaType, URI: p.URL}}
	default:
		return Part{Text: p.Text}
	}
}
