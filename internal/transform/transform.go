// Package transform declares the capability contract every wire-format
// adapter (chat, messages, gemini, responses) implements, and the small
// shared types that let the server treat all four uniformly.
package transform

import (
	"context"
	"io"

	"github.com/llmrouter/gateway/internal/ir"
)

// Transformer is the six-operation capability set of one wire protocol,
// plus ExtractUsage for the observer's bypass tap.
type Transformer interface {
	// ParseRequest decodes a client request body into IR. It fails with
	// ir.ErrMalformedRequest (wrapped) on structural violation.
	ParseRequest(raw []byte) (ir.Request, error)

	// BuildRequest encodes an IR request into this protocol's upstream
	// payload. It fails only on ir.ErrInternalInvariant.
	BuildRequest(req ir.Request) ([]byte, error)

	// TransformResponse decodes a unary upstream reply into IR.
	TransformResponse(raw []byte) (ir.Response, error)

	// FormatResponse encodes an IR response into this protocol's client
	// reply shape.
	FormatResponse(resp ir.Response) ([]byte, error)

	// TransformStream parses an upstream SSE byte stream into a lazy IR
	// chunk stream. The returned channel closes when r is exhausted, ctx
	// is cancelled, or a fatal error occurs; non-fatal per-frame errors
	// are reported via StreamResult.Err without closing the channel.
	TransformStream(ctx context.Context, r io.Reader) <-chan StreamResult

	// FormatStream consumes an IR chunk stream and writes this protocol's
	// client-facing SSE bytes to w, including the terminator event.
	FormatStream(ctx context.Context, chunks <-chan ir.StreamChunk, w io.Writer) error

	// ExtractUsage inspects one raw upstream SSE frame and returns the
	// usage it carries, if any. Pure, stateless; used by the bypass tap.
	ExtractUsage(eventName, data string) (ir.Usage, bool)
}

// EndpointProvider is implemented by transformers whose upstream request
// path depends on the request itself (Gemini embeds model and streaming
// mode in the URL).
type EndpointProvider interface {
	GetEndpoint(req ir.Request) string
}

// StreamResult pairs one IR chunk with a possible per-frame error. An
// upstream-protocol-violation on one frame is reported here and the
// stream continues; it never closes the channel early.
type StreamResult struct {
	Chunk ir.StreamChunk
	Err   error
}
