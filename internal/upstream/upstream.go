// Package upstream sends a transformer's already-encoded request bytes to
// a resolved router.Target and returns the raw reply, leaving all wire-
// format knowledge in the transform package that called it. It is the one
// place that knows how each provider wants to be authenticated.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/llmrouter/gateway/internal/router"
)

// anthropicAPIVersion is the date-based version header Anthropic requires
// on every /v1/messages request.
const anthropicAPIVersion = "2023-06-01"

// Client sends requests to upstream providers over plain HTTP.
type Client struct {
	httpClient *http.Client
}

// New builds a Client. Pass nil to use http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// defaultEndpoint returns the fixed upstream path for wire formats whose
// endpoint doesn't depend on the request (everything but Gemini, which
// implements transform.EndpointProvider instead).
func defaultEndpoint(apiType string) (string, error) {
	switch apiType {
	case "chat":
		return "/chat/completions", nil
	case "messages":
		return "/messages", nil
	case "responses":
		return "/responses", nil
	default:
		return "", fmt.Errorf("upstream: no default endpoint for api type %q", apiType)
	}
}

// Send POSTs body to target's endpoint (synthesizing the default path
// unless endpoint is already set, e.g. by a transformer's GetEndpoint) and
// returns the raw *http.Response. The caller owns Body and must close it.
//
// Authentication follows each provider's own convention: Anthropic's
// x-api-key + anthropic-version headers, Gemini's key query parameter,
// and the Bearer-token convention OpenAI-compatible APIs (chat, responses)
// share.
func (c *Client) Send(ctx context.Context, target router.Target, endpoint string, body []byte) (*http.Response, error) {
	if endpoint == "" {
		var err error
		endpoint, err = defaultEndpoint(target.EgressAPIType)
		if err != nil {
			return nil, err
		}
	}

	reqURL := target.BaseURL + endpoint
	if target.EgressAPIType == "gemini" {
		reqURL = addQueryParam(reqURL, "key", target.APIKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	switch target.EgressAPIType {
	case "messages":
		httpReq.Header.Set("x-api-key", target.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	case "chat", "responses":
		httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: sending request to %s: %w", target.Provider, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("upstream: %s responded %d: %s", target.Provider, resp.StatusCode, data)
	}
	return resp, nil
}

func addQueryParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
