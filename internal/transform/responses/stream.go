package responses

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/stream"
	"github.com/llmrouter/gateway/internal/transform"
)

// TransformStream parses a Responses SSE stream into IR chunks.
// response.created only captures id/model (folded into later chunks);
// output_item.added{function_call} seeds a tool call at a freshly
// assigned IR index; function_call_arguments.delta carries that index's
// argument fragment; response.completed yields the terminal chunk.
func TransformStream(ctx context.Context, r io.Reader) <-chan transform.StreamResult {
	out := make(chan transform.StreamResult)

	go func() {
		defer close(out)

		var id, model string
		toolIndexByItem := map[string]int{}
		nextToolIndex := 0

		for ev := range stream.ParseSSE(ctx, r) {
			var we wireEvent
			if err := json.Unmarshal([]byte(ev.Data), &we); err != nil {
				out <- transform.StreamResult{Err: fmt.Errorf("decode responses stream event: %w", ir.ErrUpstreamProtocolViolation)}
				continue
			}

			var chunk ir.StreamChunk
			emit := false

			switch we.Type {
			case "response.created":
				if we.Response != nil {
					id, model = we.Response.ID, we.Response.Model
				}
				continue

			case "response.output_text.delta":
				chunk.Delta.ContentDelta = we.Delta
				chunk.Delta.HasContentDelta = true
				emit = true

			case "response.output_item.added":
				if we.Item != nil && we.Item.Type == "function_call" {
					idx := nextToolIndex
					nextToolIndex++
					key := we.ItemID
					if key == "" {
						key = we.Item.ID
					}
					toolIndexByItem[key] = idx
					chunk.Delta.ToolCallDeltas = []ir.ToolCallDelta{{Index: idx, ID: we.Item.CallID, Name: we.Item.Name}}
					emit = true
				}

			case "response.function_call_arguments.delta":
				idx, ok := toolIndexByItem[we.ItemID]
				if !ok {
					idx = 0
				}
				chunk.Delta.ToolCallDeltas = []ir.ToolCallDelta{{Index: idx, Arguments: we.Delta}}
				emit = true

			case "response.completed":
				chunk.HasFinish = true
				chunk.FinishReason = ir.FinishStop
				if we.Response != nil && we.Response.Usage != nil {
					u := usageFromWire(*we.Response.Usage)
					chunk.Usage = &u
				}
				emit = true

			default:
				continue
			}

			if !emit {
				continue
			}
			chunk.ID, chunk.Model = id, model

			select {
			case out <- transform.StreamResult{Chunk: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// toolState accumulates one tool call's output item across the stream.
type toolState struct {
	outputIndex int
	itemID      string
	callID      string
	name        string
	args        string
}

// normalizeToolArgs applies the replace-if-complete-else-append rule some
// upstreams need: if an incoming fragment is itself a syntactically
// complete JSON object (some providers emit the final arguments string in
// full rather than as a true fragment), it replaces the accumulator;
// otherwise it's appended.
func normalizeToolArgs(previous, delta string) string {
	trimmed := strings.TrimSpace(delta)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if _, isObject := v.(map[string]any); isObject {
				return delta
			}
		}
	}
	return previous + delta
}

// FormatStream renders an IR chunk stream as the Responses streaming
// protocol: response.created/in_progress, then per-kind lazy item
// creation and delta events as content arrives, then a finalization pass
// that closes every open item and emits response.completed with the
// complete, index-sorted output array. Every event carries an injected,
// strictly incrementing sequence_number.
func FormatStream(ctx context.Context, chunks <-chan ir.StreamChunk, w io.Writer) error {
	var (
		seq             int
		hasSentCreated  bool
		nextOutputIndex int
		responseID      string
		model           string

		messageOutputIndex = -1
		messageItemID      string
		messageText        strings.Builder
		messagePartAdded   bool

		reasoningOutputIndex = -1
		reasoningItemID      string
		reasoningText        strings.Builder

		tools      = map[int]*toolState{}
		toolOrder  []int

		lastUsage  *ir.Usage
		lastFinish ir.FinishReason
		hasFinish  bool
	)

	reserveOutputIndex := func() int {
		i := nextOutputIndex
		nextOutputIndex++
		return i
	}

	writeEv := func(eventType string, body any) error {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", eventType, ir.ErrInternalInvariant)
		}
		if err := stream.WriteEvent(w, eventType, string(data)); err != nil {
			return fmt.Errorf("write %s event: %w", eventType, ir.ErrClientDisconnect)
		}
		seq++
		return nil
	}

	ensureCreated := func(c ir.StreamChunk) error {
		if hasSentCreated {
			return nil
		}
		hasSentCreated = true
		responseID, model = c.ID, c.Model
		placeholder := Response{ID: responseID, Object: "response", Model: model, Status: "in_progress"}
		if err := writeEv("response.created", createdEvent{eventBase{"response.created", seq}, placeholder}); err != nil {
			return err
		}
		return writeEv("response.in_progress", inProgressEvent{eventBase{"response.in_progress", seq}, placeholder})
	}

	ensureReasoningItem := func() error {
		if reasoningOutputIndex != -1 {
			return nil
		}
		reasoningOutputIndex = reserveOutputIndex()
		reasoningItemID = "rs_" + responseID
		item := Item{Type: "reasoning", ID: reasoningItemID, Status: "in_progress"}
		return writeEv("response.output_item.added", outputItemAddedEvent{eventBase{"response.output_item.added", seq}, reasoningOutputIndex, item})
	}

	ensureMessagePart := func() error {
		if messageOutputIndex == -1 {
			messageOutputIndex = reserveOutputIndex()
			messageItemID = "msg_" + responseID
			item := Item{Type: "message", ID: messageItemID, Role: "assistant", Status: "in_progress"}
			if err := writeEv("response.output_item.added", outputItemAddedEvent{eventBase{"response.output_item.added", seq}, messageOutputIndex, item}); err != nil {
				return err
			}
		}
		if !messagePartAdded {
			messagePartAdded = true
			part := ContentPart{Type: "output_text"}
			if err := writeEv("response.content_part.added", contentPartAddedEvent{eventBase{"response.content_part.added", seq}, messageItemID, messageOutputIndex, 0, part}); err != nil {
				return err
			}
		}
		return nil
	}

	ensureTool := func(index int, id, name string) (*toolState, error) {
		if ts, ok := tools[index]; ok {
			if id != "" {
				ts.callID = id
			}
			if name != "" {
				ts.name = name
			}
			return ts, nil
		}
		outIdx := reserveOutputIndex()
		ts := &toolState{outputIndex: outIdx, callID: id, name: name, itemID: fmt.Sprintf("fc_%s_%d", responseID, index)}
		tools[index] = ts
		toolOrder = append(toolOrder, index)
		item := Item{Type: "function_call", ID: ts.itemID, CallID: ts.callID, Name: ts.name, Status: "in_progress"}
		if err := writeEv("response.output_item.added", outputItemAddedEvent{eventBase{"response.output_item.added", seq}, outIdx, item}); err != nil {
			return nil, err
		}
		return ts, nil
	}

	for c := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := ensureCreated(c); err != nil {
			return err
		}

		if c.Delta.HasReasoningDelta {
			if err := ensureReasoningItem(); err != nil {
				return err
			}
			reasoningText.WriteString(c.Delta.ReasoningDelta)
		}

		if c.Delta.HasContentDelta {
			if err := ensureMessagePart(); err != nil {
				return err
			}
			messageText.WriteString(c.Delta.ContentDelta)
			if err := writeEv("response.output_text.delta", outputTextDeltaEvent{eventBase{"response.output_text.delta", seq}, messageItemID, messageOutputIndex, 0, c.Delta.ContentDelta}); err != nil {
				return err
			}
		}

		for _, td := range c.Delta.ToolCallDeltas {
			ts, err := ensureTool(td.Index, td.ID, td.Name)
			if err != nil {
				return err
			}
			if td.Arguments != "" {
				ts.args = normalizeToolArgs(ts.args, td.Arguments)
				if err := writeEv("response.function_call_arguments.delta", functionCallArgumentsDeltaEvent{eventBase{"response.function_call_arguments.delta", seq}, ts.itemID, ts.outputIndex, td.Arguments}); err != nil {
					return err
				}
			}
		}

		if c.HasFinish {
			hasFinish = true
			lastFinish = c.FinishReason
		}
		if c.Usage != nil {
			lastUsage = c.Usage
		}
	}

	if !hasSentCreated {
		return nil // empty stream: nothing was ever opened
	}

	type indexed struct {
		index int
		item  Item
	}
	var all []indexed

	if reasoningOutputIndex != -1 {
		item := Item{Type: "reasoning", ID: reasoningItemID, Status: "completed", Summary: []SummaryPart{{Type: "summary_text", Text: reasoningText.String()}}}
		if err := writeEv("response.output_item.done", outputItemDoneEvent{eventBase{"response.output_item.done", seq}, reasoningOutputIndex, item}); err != nil {
			return err
		}
		all = append(all, indexed{reasoningOutputIndex, item})
	}

	if messageOutputIndex != -1 {
		text := messageText.String()
		if err := writeEv("response.output_text.done", outputTextDoneEvent{eventBase{"response.output_text.done", seq}, messageItemID, messageOutputIndex, 0, text}); err != nil {
			return err
		}
		part := ContentPart{Type: "output_text", Text: text}
		if err := writeEv("response.content_part.done", contentPartDoneEvent{eventBase{"response.content_part.done", seq}, messageItemID, messageOutputIndex, 0, part}); err != nil {
			return err
		}
		content, err := json.Marshal([]ContentPart{part})
		if err != nil {
			return fmt.Errorf("marshal message content: %w", ir.ErrInternalInvariant)
		}
		item := Item{Type: "message", ID: messageItemID, Role: "assistant", Status: "completed", Content: content}
		if err := writeEv("response.output_item.done", outputItemDoneEvent{eventBase{"response.output_item.done", seq}, messageOutputIndex, item}); err != nil {
			return err
		}
		all = append(all, indexed{messageOutputIndex, item})
	}

	for _, idx := range toolOrder {
		ts := tools[idx]
		if err := writeEv("response.function_call_arguments.done", functionCallArgumentsDoneEvent{eventBase{"response.function_call_arguments.done", seq}, ts.itemID, ts.outputIndex, ts.args}); err != nil {
			return err
		}
		item := Item{Type: "function_call", ID: ts.itemID, CallID: ts.callID, Name: ts.name, Arguments: ts.args, Status: "completed"}
		if err := writeEv("response.output_item.done", outputItemDoneEvent{eventBase{"response.output_item.done", seq}, ts.outputIndex, item}); err != nil {
			return err
		}
		all = append(all, indexed{ts.outputIndex, item})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].index < all[j].index })
	output := make([]Item, len(all))
	for i, e := range all {
		output[i] = e.item
	}

	status := "completed"
	if hasFinish && lastFinish == ir.FinishLength {
		status = "incomplete"
	}
	var usage *Usage
	if lastUsage != nil {
		usage = usageToWire(*lastUsage)
	}

	resp := Response{ID: responseID, Object: "response", Model: model, Status: status, Output: output, Usage: usage}
	return writeEv("response.completed", completedEvent{eventBase{"response.completed", seq}, resp})
}

// ExtractUsage inspects one raw Responses SSE data payload for the usage
// block carried on response.completed; used by the bypass observer's tap.
func ExtractUsage(eventName, data string) (ir.Usage, bool) {
	var we wireEvent
	if err := json.Unmarshal([]byte(data), &we); err != nil || we.Response == nil || we.Response.Usage == nil {
		return ir.Usage{}, false
	}
	return usageFromWire(*we.Response.Usage), true
}
