// Package stream implements the provider-agnostic half of the streaming
// pipeline: a pull parser for incoming Server-Sent Events, an encoder for
// outgoing ones, a usage/TTFT observer, and the bypass tee used when
// ingress and egress wire formats coincide.
//
// Protocol semantics (Anthropic's block lifecycle, Responses' output-item
// lifecycle, ...) never live here — only generic SSE framing and the
// channel-based backpressure primitive the transformers build on.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// Event is one parsed Server-Sent Event: an optional event name and its
// data payload (already joined across any multi-line "data:" fields).
type Event struct {
	Name string
	Data string
}

// ParseSSE reads raw SSE bytes from r and emits one Event per blank-line
// delimited frame on the returned channel. It is a pull parser: it only
// reads as fast as the consumer drains the channel, and it stops at the
// first read error or at ctx cancellation, closing the channel either way.
//
// "data: [DONE]" frames are NOT filtered here — callers that care about
// the OpenAI-style terminator check Data == "[DONE]" themselves, since
// not every protocol uses that sentinel.
func ParseSSE(ctx context.Context, r io.Reader) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var name string
		var data string
		var haveData bool

		flush := func() bool {
			if !haveData {
				return true
			}
			ev := Event{Name: name, Data: data}
			name, data, haveData = "", "", false
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for scanner.Scan() {
			line := scanner.Text()

			switch {
			case line == "":
				if !flush() {
					return
				}
			case hasPrefix(line, "event:"):
				name = trimFieldPrefix(line, "event:")
			case hasPrefix(line, "data:"):
				chunk := trimFieldPrefix(line, "data:")
				if haveData {
					data += "\n" + chunk
				} else {
					data = chunk
					haveData = true
				}
			case hasPrefix(line, ":"):
				// SSE comment line; ignored.
			default:
				// Unknown field (id:, retry:, ...); ignored — the core
				// only needs event/data.
			}
		}

		// A stream that ends without a trailing blank line still carries
		// a final event.
		flush()
	}()

	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// trimFieldPrefix strips "field:" and at most one following space, per
// the SSE spec's field-value trimming rule.
func trimFieldPrefix(line, prefix string) string {
	v := line[len(prefix):]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return v
}

// WriteEvent writes one SSE frame to w: "event: NAME\ndata: DATA\n\n" when
// name is non-empty, or "data: DATA\n\n" otherwise (Gemini/Chat style).
// It does not flush — callers that need per-event delivery (the HTTP
// handler) flush via their own http.Flusher after each write.
func WriteEvent(w io.Writer, name, data string) error {
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
