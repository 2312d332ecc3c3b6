// Package usage records token accounting and latency for completed
// requests. The gateway core depends only on the Sink interface; the
// default implementation publishes Prometheus counters and histograms so
// an operator can track spend and latency per alias without the core
// knowing anything about metrics.
package usage

import (
	"context"
	"time"

	"github.com/llmrouter/gateway/internal/ir"
)

// Status classifies how a request ended, for the records where that
// distinction matters (a disconnected client still bills the tokens it
// already consumed, but an operator needs to tell the two apart).
type Status string

const (
	// StatusOK means the request or stream ran to completion normally.
	StatusOK Status = "ok"
	// StatusClientDisconnect means the client aborted or a write to it
	// failed partway through a stream; ChunkCount reflects what was sent
	// before the disconnect.
	StatusClientDisconnect Status = "client_disconnect"
)

// Timing is the latency shape recorded alongside a Usage record.
type Timing struct {
	// TTFT is time-to-first-token; zero for unary (non-streamed) requests.
	TTFT time.Duration
	// Total is wall-clock time from request start to the final chunk or
	// the unary response being fully read.
	Total time.Duration
	// Status is StatusOK unless the client disconnected mid-stream.
	Status Status
	// ChunkCount is the number of stream chunks/frames delivered before
	// completion or disconnect; zero for unary requests.
	ChunkCount int
}

// Sink receives a completed request's token usage and timing. Alias and
// Provider identify which router target served the request, so operators
// can break down spend per route. Implementations must be safe for
// concurrent use; Record is called from the request goroutine and must
// not block materially on it.
type Sink interface {
	Record(ctx context.Context, alias, provider string, u ir.Usage, t Timing)
}

// NoopSink discards every record. Useful in tests and as a config default
// before a real sink is wired in.
type NoopSink struct{}

func (NoopSink) Record(context.Context, string, string, ir.Usage, Timing) {}
