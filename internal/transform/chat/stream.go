package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/stream"
	"github.com/llmrouter/gateway/internal/transform"
)

// TransformStream parses Chat Completions' delta-chain SSE into IR chunks.
// Each frame's choices[0].delta maps 1-for-1 onto the IR delta; the
// terminal frame carries finish_reason and optional usage. "[DONE]" ends
// the stream without producing a chunk.
func TransformStream(ctx context.Context, r io.Reader) <-chan transform.StreamResult {
	out := make(chan transform.StreamResult)

	go func() {
		defer close(out)

		for ev := range stream.ParseSSE(ctx, r) {
			if ev.Data == "[DONE]" {
				return
			}

			var chunk StreamChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				out <- transform.StreamResult{Err: fmt.Errorf("decode chat stream chunk: %w", ir.ErrUpstreamProtocolViolation)}
				continue
			}
			if len(chunk.Choices) == 0 && chunk.Usage == nil {
				continue
			}

			irChunk := ir.StreamChunk{ID: chunk.ID, Model: chunk.Model, Created: chunk.Created}

			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				d := choice.Delta

				if d.Role != "" {
					irChunk.Delta.Role = ir.Role(d.Role)
				}
				if d.Content != "" {
					irChunk.Delta.ContentDelta = d.Content
					irChunk.Delta.HasContentDelta = true
				}
				for _, tc := range d.ToolCalls {
					idx := 0
					if tc.Index != nil {
						idx = *tc.Index
					}
					irChunk.Delta.ToolCallDeltas = append(irChunk.Delta.ToolCallDeltas, ir.ToolCallDelta{
						Index: idx, ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
					})
				}

				if choice.FinishReason != nil {
					irChunk.FinishReason = finishReasonFromWire(*choice.FinishReason)
					irChunk.HasFinish = true
				}
			}

			if chunk.Usage != nil {
				u := usageFromWire(*chunk.Usage)
				irChunk.Usage = &u
			}

			select {
			case out <- transform.StreamResult{Chunk: irChunk}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// FormatStream writes one "data: <json>\n\n" SSE frame per IR chunk and a
// trailing "data: [DONE]\n\n", per the Chat Completions wire contract.
func FormatStream(ctx context.Context, chunks <-chan ir.StreamChunk, w io.Writer) error {
	for c := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame := StreamChunk{
			ID:      c.ID,
			Object:  "chat.completion.chunk",
			Created: c.Created,
			Model:   c.Model,
			Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{}}},
		}

		d := &frame.Choices[0].Delta
		if c.Delta.Role != "" {
			d.Role = string(c.Delta.Role)
		}
		if c.Delta.HasContentDelta {
			d.Content = c.Delta.ContentDelta
		}
		for _, tc := range c.Delta.ToolCallDeltas {
			idx := tc.Index
			d.ToolCalls = append(d.ToolCalls, ToolCall{
				Index:    &idx,
				ID:       tc.ID,
				Type:     "function",
				Function: FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		if c.HasFinish {
			reason := finishReasonToWire(c.FinishReason)
			frame.Choices[0].FinishReason = &reason
		}
		if c.Usage != nil {
			frame.Usage = usageToWire(*c.Usage)
		}

		body, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("marshal chat stream chunk: %w", ir.ErrInternalInvariant)
		}
		if err := stream.WriteEvent(w, "", string(body)); err != nil {
			return fmt.Errorf("write chat stream chunk: %w", ir.ErrClientDisconnect)
		}
	}

	return stream.WriteEvent(w, "", "[DONE]")
}

// ExtractUsage inspects one raw Chat Completions SSE data payload for a
// trailing usage block; used by the bypass observer's tap.
func ExtractUsage(eventName, data string) (ir.Usage, bool) {
	if data == "[DONE]" {
		return ir.Usage{}, false
	}
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil || chunk.Usage == nil {
		return ir.Usage{}, false
	}
	return usageFromWire(*chunk.Usage), true
}
