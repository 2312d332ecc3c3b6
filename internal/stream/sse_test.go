package stream

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSSE_NamedEvents(t *testing.T) {
	raw := "event: message_start\ndata: {\"a\":1}\n\nevent: content_block_delta\ndata: {\"b\":2}\n\n"

	ctx := context.Background()
	events := collect(t, ParseSSE(ctx, strings.NewReader(raw)))

	require.Len(t, events, 2)
	assert.Equal(t, "message_start", events[0].Name)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, "content_block_delta", events[1].Name)
	assert.Equal(t, `{"b":2}`, events[1].Data)
}

func TestParseSSE_UnnamedEvents(t *testing.T) {
	raw := "data: {\"x\":1}\n\ndata: [DONE]\n\n"

	events := collect(t, ParseSSE(context.Background(), strings.NewReader(raw)))

	require.Len(t, events, 2)
	assert.Empty(t, events[0].Name)
	assert.Equal(t, `{"x":1}`, events[0].Data)
	assert.Equal(t, "[DONE]", events[1].Data)
}

func TestParseSSE_MultilineData(t *testing.T) {
	raw := "data: line one\ndata: line two\n\n"

	events := collect(t, ParseSSE(context.Background(), strings.NewReader(raw)))

	require.Len(t, events, 1)
	assert.Equal(t, "line one\nline two", events[0].Data)
}

func TestParseSSE_NoTrailingBlankLine(t *testing.T) {
	raw := "data: {\"last\":true}"

	events := collect(t, ParseSSE(context.Background(), strings.NewReader(raw)))

	require.Len(t, events, 1)
	assert.Equal(t, `{"last":true}`, events[0].Data)
}

func TestParseSSE_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context stops delivery; the channel must still close.
	ch := ParseSSE(ctx, strings.NewReader("data: a\n\ndata: b\n\n"))
	for range ch {
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteEvent(&buf, "message_stop", `{}`))
	assert.Equal(t, "event: message_stop\ndata: {}\n\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteEvent(&buf, "", `{"x":1}`))
	assert.Equal(t, "data: {\"x\":1}\n\n", buf.String())
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
