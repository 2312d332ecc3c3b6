package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/llmrouter/gateway/internal/ir"
)

// UsageExtractor inspects one raw SSE frame's data payload and returns the
// usage it carries, if any. Each wire format supplies its own (Chat's
// trailing chunk, Gemini's usageMetadata on every chunk, Anthropic's
// message_delta/message_start split, Responses' response.completed).
type UsageExtractor func(eventName, data string) (ir.Usage, bool)

// Bypass forwards raw upstream SSE bytes to dst byte-for-byte, unparsed,
// while tapping usage out of a side copy of the same bytes. It exists for
// the case where ingress and egress wire formats coincide: translating to
// IR and back would be wasted work and a source of subtle incompatibility
// with whatever the client expects verbatim from that provider.
//
// The usage tap is a pure, fast JSON parse run inline on each frame after
// it has already been written to dst, so it never delays the forward path.
//
// Bypass returns the number of complete SSE frames forwarded before it
// stopped, whether that is because the upstream source was exhausted or
// because writing to dst failed. A write failure is wrapped in
// ir.ErrClientDisconnect so callers can tell a disconnected client apart
// from an upstream read error.
func Bypass(ctx context.Context, dst io.Writer, src io.Reader, onUsage UsageFunc, extract UsageExtractor) (int, error) {
	flusher, _ := dst.(interface{ Flush() })

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name, data string
	var haveData bool
	var usage ir.Usage
	var haveUsage bool
	var chunkCount int

	writeLine := func(line string) error {
		if _, err := io.WriteString(dst, line+"\n"); err != nil {
			return fmt.Errorf("write bypass frame: %w: %w", ir.ErrClientDisconnect, err)
		}
		return nil
	}

	flushEvent := func() {
		if !haveData {
			return
		}
		chunkCount++
		if u, ok := extract(name, data); ok {
			usage = u
			haveUsage = true
		}
		name, data, haveData = "", "", false
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return chunkCount, ctx.Err()
		default:
		}

		line := scanner.Text()
		if err := writeLine(line); err != nil {
			return chunkCount, err
		}
		if flusher != nil {
			flusher.Flush()
		}

		switch {
		case line == "":
			flushEvent()
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
		}
	}
	flushEvent()

	if err := scanner.Err(); err != nil {
		return chunkCount, err
	}
	if haveUsage && onUsage != nil {
		onUsage(usage)
	}
	return chunkCount, nil
}
