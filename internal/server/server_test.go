package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/router"
	"github.com/llmrouter/gateway/internal/transform"
	"github.com/llmrouter/gateway/internal/transform/chat"
	"github.com/llmrouter/gateway/internal/transform/gemini"
	"github.com/llmrouter/gateway/internal/transform/messages"
	"github.com/llmrouter/gateway/internal/transform/responses"
	"github.com/llmrouter/gateway/internal/upstream"
	"github.com/llmrouter/gateway/internal/usage"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// spySink records the last Timing/Usage passed to Record, so tests can
// assert on status and chunk count without a real metrics backend.
type spySink struct {
	mu     sync.Mutex
	usage  ir.Usage
	timing usage.Timing
}

func (s *spySink) Record(_ context.Context, _, _ string, u ir.Usage, t usage.Timing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = u
	s.timing = t
}

func (s *spySink) last() (ir.Usage, usage.Timing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.timing
}

func newTestServer(t *testing.T, upstreamURL, egressAPIType string) *Server {
	t.Helper()
	return newTestServerWithSink(t, upstreamURL, egressAPIType, usage.NoopSink{})
}

func newTestServerWithSink(t *testing.T, upstreamURL, egressAPIType string, sink usage.Sink) *Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := router.NewRedisCooldownStore(client)

	resolver := router.New(map[string][]router.TargetConfig{
		"smart": {{Provider: "anthropic", ProviderModelID: "claude-opus-4", EgressAPIType: egressAPIType, BaseURL: upstreamURL, APIKey: "k"}},
	}, store, time.Minute)

	transformers := map[string]transform.Transformer{
		"chat":      chat.Transformer{},
		"messages":  messages.Transformer{},
		"gemini":    gemini.Transformer{},
		"responses": responses.Transformer{},
	}

	return New(&config.Config{}, resolver, transformers, upstream.New(http.DefaultClient), sink, nil, noopLogger{})
}

// failAfterNWriter fails every Write call after the Nth, simulating a
// client that disconnects partway through a stream. It implements
// http.ResponseWriter but not http.Flusher, matching stream.Flusher's
// documented fallback.
type failAfterNWriter struct {
	header http.Header
	n      int
	writes int
}

func newFailAfterNWriter(n int) *failAfterNWriter {
	return &failAfterNWriter{header: http.Header{}, n: n}
}

func (w *failAfterNWriter) Header() http.Header { return w.header }
func (w *failAfterNWriter) WriteHeader(int)     {}

func (w *failAfterNWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.n {
		return 0, errors.New("simulated client disconnect")
	}
	return len(p), nil
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, "", "messages")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleChat_TranslatesToAnthropicAndBack(t *testing.T) {
	anthropicServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","model":"claude-opus-4","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":3}}`))
	}))
	defer anthropicServer.Close()

	srv := newTestServer(t, anthropicServer.URL, "messages")

	body, _ := json.Marshal(map[string]any{
		"model": "smart",
		"messages": []map[string]any{
			{"role": "user", "content": "hello"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "anthropic", w.Header().Get("X-LLMRouter-Provider"))
	require.Equal(t, "claude-opus-4", w.Header().Get("X-LLMRouter-Model"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	choices := resp["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	require.Equal(t, "hi", msg["content"])
}

func TestHandleChat_UnaryBypass_ReturnsRawBodyVerbatim(t *testing.T) {
	const raw = `{"id":"chatcmpl_1","object":"chat.completion","model":"claude-opus-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8},"x_vendor_extension":"kept"}`

	chatServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(raw))
	}))
	defer chatServer.Close()

	// ingress format "chat" and egress format "chat" coincide, so the
	// response should round-trip byte-for-byte, including the vendor
	// extension field no IR struct models.
	srv := newTestServer(t, chatServer.URL, "chat")

	body, _ := json.Marshal(map[string]any{
		"model":    "smart",
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, raw, w.Body.String())
}

func TestHandleChat_StreamBypass_DisconnectRecordsStatus(t *testing.T) {
	const raw = "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"

	chatServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, raw)
	}))
	defer chatServer.Close()

	sink := &spySink{}
	srv := newTestServerWithSink(t, chatServer.URL, "chat", sink)

	body, _ := json.Marshal(map[string]any{
		"model":    "smart",
		"stream":   true,
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))

	// Allow the first SSE frame (its data line, then the blank line that
	// terminates it) to succeed, then fail — so the disconnect lands
	// mid-stream with a non-zero chunk count already recorded.
	w := newFailAfterNWriter(2)
	srv.ServeHTTP(w, req)

	_, timing := sink.last()
	require.Equal(t, usage.StatusClientDisconnect, timing.Status)
	require.Equal(t, 1, timing.ChunkCount)
}

func TestHandleChat_UnknownAliasReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t, "", "messages")
	body, _ := json.Marshal(map[string]any{
		"model":    "nope",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
