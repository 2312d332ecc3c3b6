package messages

import (
	"context"
	"io"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/transform"
)

// Transformer implements transform.Transformer for Anthropic Messages.
type Transformer struct{}

var _ transform.Transformer = Transformer{}

func (Transformer) ParseRequest(raw []byte) (ir.Request, error) { return ParseRequest(raw) }
func (Transformer) BuildRequest(req ir.Request) ([]byte, error) { return BuildRequest(req) }
func (Transformer) TransformResponse(raw []byte) (ir.Response, error) {
	return TransformResponse(raw)
}
func (Transformer) FormatResponse(resp ir.Response) ([]byte, error) { return FormatResponse(resp) }
func (Transformer) TransformStream(ctx context.Context, r io.Reader) <-chan transform.StreamResult {
	return TransformStream(ctx, r)
}
func (Transformer) FormatStream(ctx context.Context, chunks <-chan ir.StreamChunk, w io.Writer) error {
	return FormatStream(ctx, chunks, w)
}
func (Transformer) ExtractUsage(eventName, data string) (ir.Usage, bool) {
	return ExtractUsage(eventName, data)
}
