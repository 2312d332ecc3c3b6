package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/stream"
	"github.com/llmrouter/gateway/internal/transform"
)

// TransformStream parses Anthropic's block-lifecycle SSE into IR chunks.
// Visible text and thinking text are accumulated into buffers so that
// message_delta's combined output_tokens can be imputed at finalization.
func TransformStream(ctx context.Context, r io.Reader) <-chan transform.StreamResult {
	out := make(chan transform.StreamResult)

	go func() {
		defer close(out)

		var id, model string
		var textBuf, reasoningBuf string

		emit := func(c ir.StreamChunk) bool {
			select {
			case out <- transform.StreamResult{Chunk: c}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for ev := range stream.ParseSSE(ctx, r) {
			var se StreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &se); err != nil {
				out <- transform.StreamResult{Err: fmt.Errorf("decode messages stream event: %w", ir.ErrUpstreamProtocolViolation)}
				continue
			}

			switch se.Type {
			case "message_start":
				if se.Message == nil {
					out <- transform.StreamResult{Err: fmt.Errorf("message_start missing message: %w", ir.ErrUpstreamProtocolViolation)}
					continue
				}
				id = se.Message.ID
				model = se.Message.Model
				if !emit(ir.StreamChunk{ID: id, Model: model, Delta: ir.Delta{Role: ir.RoleAssistant}}) {
					return
				}

			case "content_block_start":
				if se.ContentBlock == nil || se.Index == nil {
					continue
				}
				if se.ContentBlock.Type == "tool_use" {
					chunk := ir.StreamChunk{ID: id, Model: model, Delta: ir.Delta{
						ToolCallDeltas: []ir.ToolCallDelta{{Index: *se.Index, ID: se.ContentBlock.ID, Name: se.ContentBlock.Name}},
					}}
					if !emit(chunk) {
						return
					}
				}

			case "content_block_delta":
				if se.Delta == nil {
					continue
				}
				idx := 0
				if se.Index != nil {
					idx = *se.Index
				}
				switch se.Delta.Type {
				case "text_delta":
					textBuf += se.Delta.Text
					if !emit(ir.StreamChunk{ID: id, Model: model, Delta: ir.Delta{ContentDelta: se.Delta.Text, HasContentDelta: true}}) {
						return
					}
				case "thinking_delta":
					reasoningBuf += se.Delta.Thinking
					chunk := ir.StreamChunk{ID: id, Model: model, Delta: ir.Delta{ThinkingDelta: &ir.Thinking{Content: se.Delta.Thinking}}}
					if !emit(chunk) {
						return
					}
				case "signature_delta":
					chunk := ir.StreamChunk{ID: id, Model: model, Delta: ir.Delta{ThinkingDelta: &ir.Thinking{Signature: se.Delta.Signature}}}
					if !emit(chunk) {
						return
					}
				case "input_json_delta":
					chunk := ir.StreamChunk{ID: id, Model: model, Delta: ir.Delta{
						ToolCallDeltas: []ir.ToolCallDelta{{Index: idx, Arguments: se.Delta.PartialJSON}},
					}}
					if !emit(chunk) {
						return
					}
				}

			case "message_delta":
				if se.Delta == nil {
					continue
				}
				finish := stopReasonFromWire(se.Delta.StopReason)
				var usage ir.Usage
				if se.Usage != nil {
					usage = imputeUsage(*se.Usage, textBuf, reasoningBuf)
				}
				chunk := ir.StreamChunk{ID: id, Model: model, FinishReason: finish, HasFinish: true, Usage: &usage}
				if !emit(chunk) {
					return
				}

			case "message_stop":
				// No IR-visible effect; message_delta already carried the
				// terminal chunk.
			}
		}
	}()

	return out
}

// blockState tracks the single active content block of the block-lifecycle
// state machine used by FormatStream.
type blockState struct {
	nextIndex   int
	activeType  string // "", "text", "thinking", "tool_use"
	activeIndex int
	activeTool  int // IR tool-call index of the active tool_use block
}

// FormatStream renders an IR chunk stream as Anthropic's block-lifecycle
// SSE: message_start, then a single active content block at a time
// (text/thinking/tool_use), switching blocks via stop/start pairs as the
// incoming delta kind changes, deferring finish_reason and usage until
// flush so a trailing usage-only chunk can still be incorporated.
func FormatStream(ctx context.Context, chunks <-chan ir.StreamChunk, w io.Writer) error {
	st := &blockState{}

	var model, id string
	var finish ir.FinishReason
	var usage ir.Usage
	var hasToolCalls bool
	started := false

	write := func(name string, v any) error {
		body, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", name, ir.ErrInternalInvariant)
		}
		if err := stream.WriteEvent(w, name, string(body)); err != nil {
			return fmt.Errorf("write %s event: %w", name, ir.ErrClientDisconnect)
		}
		return nil
	}

	ensureBlock := func(kind string, toolIndex int, seed func() ContentBlock) error {
		if st.activeType == kind && (kind != "tool_use" || st.activeTool == toolIndex) {
			return nil
		}
		if st.activeType != "" {
			if err := write("content_block_stop", StreamEvent{Type: "content_block_stop", Index: intPtr(st.activeIndex)}); err != nil {
				return err
			}
		}
		newIndex := st.nextIndex
		st.nextIndex++
		st.activeType = kind
		st.activeIndex = newIndex
		if kind == "tool_use" {
			st.activeTool = toolIndex
		}
		block := seed()
		return write("content_block_start", StreamEvent{Type: "content_block_start", Index: intPtr(newIndex), ContentBlock: &block})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if st.activeType != "" {
					if err := write("content_block_stop", StreamEvent{Type: "content_block_stop", Index: intPtr(st.activeIndex)}); err != nil {
						return err
					}
				}
				stopReason := stopReasonToWire(finish, hasToolCalls)
				wireUsage := usageToWire(usage)
				if err := write("message_delta", StreamEvent{Type: "message_delta", Delta: &StreamDelta{StopReason: stopReason}, Usage: &wireUsage}); err != nil {
					return err
				}
				return write("message_stop", StreamEvent{Type: "message_stop"})
			}

			if !started {
				id, model = c.ID, c.Model
				if err := write("message_start", StreamEvent{Type: "message_start", Message: &Response{
					ID: id, Type: "message", Role: string(ir.RoleAssistant), Model: model,
				}}); err != nil {
					return err
				}
				started = true
			}

			if c.Delta.ThinkingDelta != nil && c.Delta.ThinkingDelta.Content != "" {
				if err := ensureBlock("thinking", 0, func() ContentBlock { return ContentBlock{Type: "thinking"} }); err != nil {
					return err
				}
				if err := write("content_block_delta", StreamEvent{Type: "content_block_delta", Index: intPtr(st.activeIndex),
					Delta: &StreamDelta{Type: "thinking_delta", Thinking: c.Delta.ThinkingDelta.Content}}); err != nil {
					return err
				}
			} else if c.Delta.HasReasoningDelta {
				if err := ensureBlock("thinking", 0, func() ContentBlock { return ContentBlock{Type: "thinking"} }); err != nil {
					return err
				}
				if err := write("content_block_delta", StreamEvent{Type: "content_block_delta", Index: intPtr(st.activeIndex),
					Delta: &StreamDelta{Type: "thinking_delta", Thinking: c.Delta.ReasoningDelta}}); err != nil {
					return err
				}
			}
			if c.Delta.ThinkingDelta != nil && c.Delta.ThinkingDelta.Signature != "" {
				if err := write("content_block_delta", StreamEvent{Type: "content_block_delta", Index: intPtr(st.activeIndex),
					Delta: &StreamDelta{Type: "signature_delta", Signature: c.Delta.ThinkingDelta.Signature}}); err != nil {
					return err
				}
			}

			if c.Delta.HasContentDelta {
				if err := ensureBlock("text", 0, func() ContentBlock { return ContentBlock{Type: "text"} }); err != nil {
					return err
				}
				if err := write("content_block_delta", StreamEvent{Type: "content_block_delta", Index: intPtr(st.activeIndex),
					Delta: &StreamDelta{Type: "text_delta", Text: c.Delta.ContentDelta}}); err != nil {
					return err
				}
			}

			for _, tc := range c.Delta.ToolCallDeltas {
				hasToolCalls = true
				tc := tc
				if err := ensureBlock("tool_use", tc.Index, func() ContentBlock {
					return ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage("{}")}
				}); err != nil {
					return err
				}
				if tc.Arguments != "" {
					if err := write("content_block_delta", StreamEvent{Type: "content_block_delta", Index: intPtr(st.activeIndex),
						Delta: &StreamDelta{Type: "input_json_delta", PartialJSON: tc.Arguments}}); err != nil {
						return err
					}
				}
			}

			if c.HasFinish {
				finish = c.FinishReason
			}
			if c.Usage != nil {
				usage = *c.Usage
			}
		}
	}
}

func intPtr(i int) *int { return &i }

// ExtractUsage inspects one raw Messages SSE data payload for the
// message_delta event's usage block; used by the bypass observer's tap.
func ExtractUsage(eventName, data string) (ir.Usage, bool) {
	if eventName != "message_delta" {
		return ir.Usage{}, false
	}
	var se StreamEvent
	if err := json.Unmarshal([]byte(data), &se); err != nil || se.Usage == nil {
		return ir.Usage{}, false
	}
	return imputeUsage(*se.Usage, "", ""), true
}
