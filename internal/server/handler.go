package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/llmrouter/gateway/internal/ir"
	"github.com/llmrouter/gateway/internal/router"
	"github.com/llmrouter/gateway/internal/stream"
	"github.com/llmrouter/gateway/internal/transform"
	"github.com/llmrouter/gateway/internal/usage"
)

// usageTiming builds a usage.Timing from a request start time, the
// time-to-first-token an Observer recorded (zero for unary requests), the
// number of stream chunks delivered (zero for unary requests), and the
// final status.
func usageTiming(start time.Time, ttft time.Duration, chunkCount int, status usage.Status) usage.Timing {
	return usage.Timing{TTFT: ttft, Total: time.Since(start), ChunkCount: chunkCount, Status: status}
}

// streamStatus classifies a stream-ending error: a client disconnect is a
// distinct, expected outcome, not a failure to log as an upstream error.
func streamStatus(err error) usage.Status {
	if errors.Is(err, ir.ErrClientDisconnect) {
		return usage.StatusClientDisconnect
	}
	return usage.StatusOK
}

// oauthAPIKey is the sentinel a target's APIKey carries when it should be
// reached through the OAuth session adapter instead of a raw API key.
const oauthAPIKey = "$oauth"

// handleHealth responds with a simple JSON status indicating the server
// is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ingress names which Transformer + api-type decodes each route's request
// body. The Gemini handlers pass the URL's model and streaming mode to
// dispatch as separate arguments; ingress itself does not carry them.
type ingress struct {
	apiType     string
	transformer transform.Transformer
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, ingress{apiType: "chat", transformer: s.transformers["chat"]}, "", false, false)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, ingress{apiType: "messages", transformer: s.transformers["messages"]}, "", false, false)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, ingress{apiType: "responses", transformer: s.transformers["responses"]}, "", false, false)
}

func (s *Server) handleGeminiGenerate(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	s.dispatch(w, r, ingress{apiType: "gemini", transformer: s.transformers["gemini"]}, model, true, false)
}

func (s *Server) handleGeminiStream(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	s.dispatch(w, r, ingress{apiType: "gemini", transformer: s.transformers["gemini"]}, model, true, true)
}

// dispatch runs the shared pipeline every route follows: decode into IR,
// resolve the model alias to an upstream target, forward the request, and
// translate the reply back into the client's own wire format. overrideModel
// and forceStream exist only for Gemini, whose model and streaming mode
// live in the URL rather than the request body.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, in ingress, overrideModel string, hasOverride, forceStream bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	req, err := in.transformer.ParseRequest(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if hasOverride {
		req.Model = overrideModel
		req.Stream = forceStream
	}

	alias := req.Model
	rendezvousKey := r.Header.Get("X-Session-Id")
	if rendezvousKey == "" {
		rendezvousKey = alias
	}

	target, err := s.resolver.Resolve(r.Context(), alias, rendezvousKey)
	if err != nil {
		if errors.Is(err, router.ErrUnknownAlias) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("X-LLMRouter-Provider", target.Provider)
	w.Header().Set("X-LLMRouter-Model", target.ProviderModelID)
	req.Model = target.ProviderModelID

	if req.Stream {
		s.dispatchStream(w, r, in, req, target, alias)
		return
	}
	s.dispatchUnary(w, r, in, req, target, alias)
}

func (s *Server) dispatchUnary(w http.ResponseWriter, r *http.Request, in ingress, req ir.Request, target router.Target, alias string) {
	start := time.Now()

	var resp ir.Response
	var err error
	switch {
	case target.APIKey == oauthAPIKey:
		var out *ir.Response
		out, err = s.oauth.Complete(r.Context(), &req)
		if out != nil {
			resp = *out
		}
	case in.apiType == target.EgressAPIType:
		resp, err = s.forwardUnaryBypass(r.Context(), target, req)
	default:
		resp, err = s.forwardUnary(r.Context(), target, req)
	}
	if err != nil {
		_ = s.resolver.MarkFailure(r.Context(), alias, target)
		s.logger.Printf("upstream error for alias %q: %v", alias, err)
		s.writeError(w, http.StatusBadGateway, "upstream error: "+err.Error())
		return
	}

	s.usage.Record(r.Context(), alias, target.Provider, resp.Usage, usageTiming(start, 0, 0, usage.StatusOK))

	body, err := in.transformer.FormatResponse(resp)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "formatting response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) forwardUnary(ctx context.Context, target router.Target, req ir.Request) (ir.Response, error) {
	egress := s.transformers[target.EgressAPIType]

	endpoint := ""
	if ep, ok := egress.(transform.EndpointProvider); ok {
		endpoint = ep.GetEndpoint(req)
	}

	body, err := egress.BuildRequest(req)
	if err != nil {
		return ir.Response{}, err
	}

	httpResp, err := s.upstream.Send(ctx, target, endpoint, body)
	if err != nil {
		return ir.Response{}, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ir.Response{}, err
	}
	return egress.TransformResponse(raw)
}

// forwardUnaryBypass is forwardUnary's counterpart for ingress format ==
// egress format: it still decodes the upstream body for Usage, but marks
// the response Bypass so FormatResponse returns the raw bytes verbatim
// rather than re-encoding through the Response struct's wire-agnostic
// fields.
func (s *Server) forwardUnaryBypass(ctx context.Context, target router.Target, req ir.Request) (ir.Response, error) {
	egress := s.transformers[target.EgressAPIType]

	endpoint := ""
	if ep, ok := egress.(transform.EndpointProvider); ok {
		endpoint = ep.GetEndpoint(req)
	}

	body, err := egress.BuildRequest(req)
	if err != nil {
		return ir.Response{}, err
	}

	httpResp, err := s.upstream.Send(ctx, target, endpoint, body)
	if err != nil {
		return ir.Response{}, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ir.Response{}, err
	}

	resp, err := egress.TransformResponse(raw)
	if err != nil {
		return ir.Response{}, err
	}
	resp.Bypass = true
	resp.RawResponse = raw
	return resp, nil
}

func (s *Server) dispatchStream(w http.ResponseWriter, r *http.Request, in ingress, req ir.Request, target router.Target, alias string) {
	stream.SetHeaders(w)
	flush := stream.Flusher(w)
	w.WriteHeader(http.StatusOK)
	flush()

	ctx := r.Context()
	start := time.Now()
	var recordedUsage ir.Usage
	onUsage := func(u ir.Usage) { recordedUsage = u }

	if target.APIKey == oauthAPIKey {
		chunks, err := s.oauth.Stream(ctx, &req)
		if err != nil {
			s.logger.Printf("oauth stream error for alias %q: %v", alias, err)
			return
		}
		obs := stream.NewObserver(onUsage)
		formatErr := in.transformer.FormatStream(ctx, obs.Wrap(chunks), w)
		if formatErr != nil {
			s.logger.Printf("format stream error for alias %q: %v", alias, formatErr)
		}
		s.usage.Record(ctx, alias, target.Provider, recordedUsage, usageTiming(start, obs.TTFT, obs.ChunkCount, streamStatus(formatErr)))
		return
	}

	egress := s.transformers[target.EgressAPIType]
	endpoint := ""
	if ep, ok := egress.(transform.EndpointProvider); ok {
		endpoint = ep.GetEndpoint(req)
	}

	body, err := egress.BuildRequest(req)
	if err != nil {
		s.logger.Printf("build request error for alias %q: %v", alias, err)
		return
	}

	httpResp, err := s.upstream.Send(ctx, target, endpoint, body)
	if err != nil {
		_ = s.resolver.MarkFailure(ctx, alias, target)
		s.logger.Printf("upstream stream error for alias %q: %v", alias, err)
		return
	}
	defer httpResp.Body.Close()

	if in.apiType == target.EgressAPIType {
		chunkCount, bypassErr := stream.Bypass(ctx, w, httpResp.Body, onUsage, egress.ExtractUsage)
		if bypassErr != nil {
			s.logger.Printf("bypass error for alias %q: %v", alias, bypassErr)
		}
		s.usage.Record(ctx, alias, target.Provider, recordedUsage, usageTiming(start, 0, chunkCount, streamStatus(bypassErr)))
		return
	}

	upstreamChunks := dropStreamErrors(ctx, egress.TransformStream(ctx, httpResp.Body), s.logger)
	obs := stream.NewObserver(onUsage)
	formatErr := in.transformer.FormatStream(ctx, obs.Wrap(upstreamChunks), w)
	if formatErr != nil {
		s.logger.Printf("format stream error for alias %q: %v", alias, formatErr)
	}
	s.usage.Record(ctx, alias, target.Provider, recordedUsage, usageTiming(start, obs.TTFT, obs.ChunkCount, streamStatus(formatErr)))
}

// dropStreamErrors adapts a transform.StreamResult channel into a plain
// ir.StreamChunk channel: a per-frame error is logged and the frame
// skipped, matching Transformer.TransformStream's "report, don't abort"
// contract.
func dropStreamErrors(ctx context.Context, in <-chan transform.StreamResult, logger Logger) <-chan ir.StreamChunk {
	out := make(chan ir.StreamChunk)
	go func() {
		defer close(out)
		for result := range in {
			if result.Err != nil {
				logger.Printf("stream frame error: %v", result.Err)
				continue
			}
			select {
			case out <- result.Chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
