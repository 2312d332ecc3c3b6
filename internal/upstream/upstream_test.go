package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/router"
)

func TestSend_AnthropicHeaders(t *testing.T) {
	var gotPath, gotAPIKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.WriteHeader(200)
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	target := router.Target{Provider: "anthropic", EgressAPIType: "messages", BaseURL: srv.URL, APIKey: "sk-ant-test"}
	c := New(srv.Client())

	resp, err := c.Send(context.Background(), target, "", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "/messages", gotPath)
	require.Equal(t, "sk-ant-test", gotAPIKey)
	require.Equal(t, anthropicAPIVersion, gotVersion)
}

func TestSend_GeminiKeyInQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(200)
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	target := router.Target{Provider: "google", EgressAPIType: "gemini", BaseURL: srv.URL, APIKey: "gkey"}
	c := New(srv.Client())

	resp, err := c.Send(context.Background(), target, "/v1beta/models/gemini-2.5-pro:generateContent", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "key=gkey", gotQuery)
}

func TestSend_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		io.WriteString(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	target := router.Target{Provider: "anthropic", EgressAPIType: "messages", BaseURL: srv.URL, APIKey: "k"}
	c := New(srv.Client())

	_, err := c.Send(context.Background(), target, "", []byte(`{}`))
	require.Error(t, err)
}
