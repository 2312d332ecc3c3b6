package oauthadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/llmrouter/gateway/internal/ir"
)

// MessagesClient captures the subset of the Anthropic SDK used by
// ClaudeCodeSession, so tests can substitute a fake instead of a live
// client.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// ClaudeCodeSession reaches Anthropic through the OAuth bearer token issued
// to a Claude Code session rather than a bare API key. Requests still flow
// through the gateway's unified IR; only the transport differs from the
// raw-HTTP path the rest of the gateway uses.
type ClaudeCodeSession struct {
	msg   MessagesClient
	model string
}

// NewClaudeCodeSession builds a session from an OAuth bearer token. The SDK
// sends it as a plain Bearer Authorization header rather than the
// x-api-key header a raw API key would use.
func NewClaudeCodeSession(oauthToken, model string) (*ClaudeCodeSession, error) {
	if oauthToken == "" {
		return nil, errors.New("oauthadapter: oauth token is required")
	}
	if model == "" {
		return nil, errors.New("oauthadapter: model is required")
	}
	client := sdk.NewClient(option.WithAuthToken(oauthToken))
	return &ClaudeCodeSession{msg: &client.Messages, model: model}, nil
}

// Complete issues a non-streaming Messages.New call and translates the
// result back into the IR. Tool names are proxied on the way out and
// unproxied on the way back so they never collide with Claude Code's own
// built-in tool namespace.
func (s *ClaudeCodeSession) Complete(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := s.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("oauthadapter: messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

// Stream issues Messages.NewStreaming and adapts the SDK's event union into
// the gateway's StreamChunk channel. The returned channel is closed when
// the upstream stream ends or ctx is canceled.
func (s *ClaudeCodeSession) Stream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := s.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("oauthadapter: messages.new streaming: %w", err)
	}

	out := make(chan ir.StreamChunk)
	go runSessionStream(ctx, stream, out)
	return out, nil
}

func (s *ClaudeCodeSession) buildParams(req *ir.Request) (*sdk.MessageNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("oauthadapter: at least one message is required")
	}
	model := req.Model
	if model == "" {
		model = s.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		return nil, errors.New("oauthadapter: max_tokens must be positive")
	}

	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	if req.Reasoning != nil && req.Reasoning.Enabled && req.Reasoning.MaxTokens > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.Reasoning.MaxTokens))
	}
	return &params, nil
}

func encodeMessages(msgs []ir.Message) ([]sdk.MessageParam, string, error) {
	var system strings.Builder
	out := make([]sdk.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == ir.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content.Text)
			continue
		}

		blocks, err := encodeBlocks(m)
		if err != nil {
			return nil, "", err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case ir.RoleUser, ir.RoleTool:
			out = append(out, sdk.NewUserMessage(blocks...))
		case ir.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, "", fmt.Errorf("oauthadapter: unsupported message role %q", m.Role)
		}
	}
	return out, system.String(), nil
}

func encodeBlocks(m ir.Message) ([]sdk.ContentBlockParamUnion, error) {
	if m.Role == ir.RoleTool {
		content := m.Content.Text
		return []sdk.ContentBlockParamUnion{sdk.NewToolResultBlock(m.ToolCallID, content, false)}, nil
	}

	var blocks []sdk.ContentBlockParamUnion
	if m.Content.Text != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Content.Text))
	}
	for _, tc := range m.ToolCalls {
		var input any
		if tc.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				return nil, fmt.Errorf("oauthadapter: tool call %q arguments: %w", tc.ID, err)
			}
		}
		blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, ProxyClaudeCodeToolName(tc.Name)))
	}
	return blocks, nil
}

func encodeTools(defs []ir.ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.Parameters}, ProxyClaudeCodeToolName(def.Name))
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func encodeToolChoice(tc ir.ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch tc.Mode {
	case "", ir.ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case ir.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case ir.ToolChoiceRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case ir.ToolChoiceNamed:
		if tc.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("oauthadapter: named tool choice requires a name")
		}
		return sdk.ToolChoiceParamOfTool(ProxyClaudeCodeToolName(tc.Name)), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("oauthadapter: unsupported tool choice mode %q", tc.Mode)
	}
}

func translateMessage(msg *sdk.Message) *ir.Response {
	resp := &ir.Response{Model: string(msg.Model), ID: msg.ID}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ir.ToolCall{
				ID:        block.ID,
				Name:      UnproxyClaudeCodeToolName(block.Name),
				Arguments: string(encodeInput(block.Input)),
			})
		}
	}
	if s := text.String(); s != "" {
		resp.Content = &s
	}

	resp.Usage = ir.Usage{
		InputTokens:         int(msg.Usage.InputTokens),
		OutputTokens:        int(msg.Usage.OutputTokens),
		TotalTokens:         int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CachedTokens:        int(msg.Usage.CacheReadInputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
	}

	switch {
	case len(resp.ToolCalls) > 0:
		resp.FinishReason = ir.FinishToolCalls
	case string(msg.StopReason) == "max_tokens":
		resp.FinishReason = ir.FinishLength
	default:
		resp.FinishReason = ir.FinishStop
	}
	return resp
}

func encodeInput(input any) json.RawMessage {
	data, err := json.Marshal(input)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// runSessionStream drains the SDK's event union stream into out, closing it
// once the upstream stream is exhausted or ctx is canceled.
func runSessionStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- ir.StreamChunk) {
	defer close(out)
	defer stream.Close()

	toolNames := make(map[int]string)
	toolIDs := make(map[int]string)
	nextToolIndex := 0
	toolIndexByBlock := make(map[int]int)
	var stopReason string

	send := func(chunk ir.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolIndexByBlock[idx] = nextToolIndex
				toolNames[idx] = UnproxyClaudeCodeToolName(toolUse.Name)
				toolIDs[idx] = toolUse.ID
				nextToolIndex++
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !send(ir.StreamChunk{Delta: ir.Delta{Role: ir.RoleAssistant, ContentDelta: delta.Text, HasContentDelta: true}}) {
					return
				}
			case sdk.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				if !send(ir.StreamChunk{Delta: ir.Delta{ReasoningDelta: delta.Thinking, HasReasoningDelta: true}}) {
					return
				}
			case sdk.SignatureDelta:
				if delta.Signature == "" {
					continue
				}
				if !send(ir.StreamChunk{Delta: ir.Delta{ThinkingDelta: &ir.Thinking{Signature: delta.Signature}}}) {
					return
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				toolIdx, ok := toolIndexByBlock[idx]
				if !ok {
					continue
				}
				if !send(ir.StreamChunk{Delta: ir.Delta{ToolCallDeltas: []ir.ToolCallDelta{{
					Index:     toolIdx,
					ID:        toolIDs[idx],
					Name:      toolNames[idx],
					Arguments: delta.PartialJSON,
				}}}}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			usage := ir.Usage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				CachedTokens: int(ev.Usage.CacheReadInputTokens),
			}
			if !send(ir.StreamChunk{Usage: &usage}) {
				return
			}
		case sdk.MessageStopEvent:
			finish := ir.FinishStop
			switch {
			case len(toolIndexByBlock) > 0:
				finish = ir.FinishToolCalls
			case stopReason == "max_tokens":
				finish = ir.FinishLength
			}
			send(ir.StreamChunk{HasFinish: true, FinishReason: finish})
			return
		}
	}
}
