package stream

import (
	"time"

	"github.com/llmrouter/gateway/internal/ir"
)

// UsageFunc receives a Usage record observed on a stream. Bypass calls it
// at most once, after the last frame, and only when the stream ended
// without error and a usage record was extracted. Observer.Wrap calls it
// once for every chunk that carries Usage, so the last call holds the
// final record.
type UsageFunc func(ir.Usage)

// Observer wraps an IR chunk channel, recording time-to-first-token and
// invoking a usage callback for each chunk that carries usage, without
// altering what flows through to the consumer. It is the non-bypass
// counterpart to Bypass.
type Observer struct {
	// TTFT is the duration between NewObserver and the first chunk that
	// carries non-empty content, or zero if none arrived yet.
	TTFT time.Duration
	// ChunkCount is the number of chunks that have passed through Wrap so
	// far; a caller reads it after the wrapped channel closes (or after a
	// client write fails) to report how much of the stream was delivered.
	ChunkCount int

	started  time.Time
	gotFirst bool
	onUsage  UsageFunc
}

// NewObserver starts the TTFT clock immediately; call Wrap as soon as the
// upstream request is issued.
func NewObserver(onUsage UsageFunc) *Observer {
	return &Observer{started: time.Now(), onUsage: onUsage}
}

// Wrap returns a channel that mirrors in, recording TTFT on the first
// content-bearing chunk and invoking onUsage when a chunk carries Usage.
// The returned channel closes when in closes; Wrap consumes in completely,
// so it must not be read from elsewhere.
func (o *Observer) Wrap(in <-chan ir.StreamChunk) <-chan ir.StreamChunk {
	out := make(chan ir.StreamChunk)

	go func() {
		defer close(out)

		for chunk := range in {
			if !o.gotFirst && (chunk.Delta.HasContentDelta || chunk.Delta.HasReasoningDelta || len(chunk.Delta.ToolCallDeltas) > 0) {
				o.TTFT = time.Since(o.started)
				o.gotFirst = true
			}
			if chunk.Usage != nil && o.onUsage != nil {
				o.onUsage(*chunk.Usage)
			}
			o.ChunkCount++
			out <- chunk
		}
	}()

	return out
}
