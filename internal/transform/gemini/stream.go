package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/stream"
	"github.com/llmrouter/gateway/internal/transform"
)

// TransformStream parses Gemini's SSE into IR chunks. Gemini has no block
// lifecycle: each "data:" frame is a complete JSON document carrying at
// most one candidate, and tool calls are identified by function name
// rather than a stable index (Gemini does not multiplex concurrent calls
// the way OpenAI does).
func TransformStream(ctx context.Context, r io.Reader) <-chan transform.StreamResult {
	out := make(chan transform.StreamResult)

	go func() {
		defer close(out)

		toolIndex := 0

		for ev := range stream.ParseSSE(ctx, r) {
			var resp Response
			if err := json.Unmarshal([]byte(ev.Data), &resp); err != nil {
				out <- transform.StreamResult{Err: fmt.Errorf("decode generateContent stream chunk: %w", ir.ErrUpstreamProtocolViolation)}
				continue
			}

			var chunk ir.StreamChunk
			chunk.Model = resp.ModelVersion

			if len(resp.Candidates) > 0 {
				cand := resp.Candidates[0]
				for _, p := range cand.Content.Parts {
					switch {
					case p.FunctionCall != nil:
						args, _ := json.Marshal(json.RawMessage(p.FunctionCall.Args))
						chunk.Delta.ToolCallDeltas = append(chunk.Delta.ToolCallDeltas, ir.ToolCallDelta{
							Index: toolIndex, ID: p.FunctionCall.Name, Name: p.FunctionCall.Name, Arguments: string(args),
						})
						toolIndex++
					case p.Thought:
						chunk.Delta.ReasoningDelta += p.Text
						chunk.Delta.HasReasoningDelta = true
					default:
						chunk.Delta.ContentDelta += p.Text
						chunk.Delta.HasContentDelta = true
					}
				}

				if cand.FinishReason != "" {
					chunk.HasFinish = true
					chunk.FinishReason = finishReasonFromWire(cand.FinishReason)
				}
			}

			if resp.UsageMetadata != nil {
				u := usageFromWire(*resp.UsageMetadata)
				chunk.Usage = &u
			}

			if !chunk.Delta.HasContentDelta && !chunk.Delta.HasReasoningDelta && len(chunk.Delta.ToolCallDeltas) == 0 && !chunk.HasFinish && chunk.Usage == nil {
				continue
			}

			select {
			case out <- transform.StreamResult{Chunk: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// FormatStream renders each IR chunk that carries any delta, a
// finish_reason or usage as one outgoing SSE event whose data payload is a
// single-candidate JSON document.
func FormatStream(ctx context.Context, chunks <-chan ir.StreamChunk, w io.Writer) error {
	for c := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var parts []Part
		if c.Delta.HasReasoningDelta {
			parts = append(parts, Part{Text: c.Delta.ReasoningDelta, Thought: true})
		}
		if c.Delta.HasContentDelta {
			parts = append(parts, Part{Text: c.Delta.ContentDelta})
		}
		for _, tc := range c.Delta.ToolCallDeltas {
			args := json.RawMessage(tc.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			parts = append(parts, Part{FunctionCall: &FunctionCall{Name: tc.Name, Args: args}})
		}

		if len(parts) == 0 && !c.HasFinish && c.Usage == nil {
			continue
		}

		resp := Response{Candidates: []Candidate{{Content: Content{Role: "model", Parts: parts}}}, ModelVersion: c.Model}
		if c.HasFinish {
			resp.Candidates[0].FinishReason = finishReasonToWire(c.FinishReason)
		}
		if c.Usage != nil {
			resp.UsageMetadata = usageToWire(*c.Usage)
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal generateContent stream chunk: %w", ir.ErrInternalInvariant)
		}
		if err := stream.WriteEvent(w, "", string(body)); err != nil {
			return fmt.Errorf("write generateContent stream chunk: %w", ir.ErrClientDisconnect)
		}
	}
	return nil
}

// ExtractUsage inspects one raw Gemini SSE data payload for usageMetadata;
// used by the bypass observer's tap.
func ExtractUsage(eventName, data string) (ir.Usage, bool) {
	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil || resp.UsageMetadata == nil {
		return ir.Usage{}, false
	}
	return usageFromWire(*resp.UsageMetadata), true
}
