// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/oauthadapter"
	"github.com/llmrouter/gateway/internal/router"
	"github.com/llmrouter/gateway/internal/transform"
	"github.com/llmrouter/gateway/internal/upstream"
	"github.com/llmrouter/gateway/internal/usage"
)

// Logger is the one-method interface the core depends on. log.Default()
// satisfies it; tests pass a no-op stub.
type Logger interface {
	Printf(format string, args ...any)
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	cfg    *config.Config

	resolver     *router.Router
	transformers map[string]transform.Transformer
	upstream     *upstream.Client
	usage        usage.Sink
	oauth        *oauthadapter.ClaudeCodeSession
	logger       Logger
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. oauth may be nil — targets configured
// with the "$oauth" API key sentinel will then fail at request time rather
// than at startup, since not every deployment needs the OAuth path.
func New(
	cfg *config.Config,
	resolver *router.Router,
	transformers map[string]transform.Transformer,
	upstreamClient *upstream.Client,
	usageSink usage.Sink,
	oauth *oauthadapter.ClaudeCodeSession,
	logger Logger,
) *Server {
	s := &Server{
		cfg:          cfg,
		resolver:     resolver,
		transformers: transformers,
		upstream:     upstreamClient,
		usage:        usageSink,
		oauth:        oauth,
		logger:       logger,
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/chat/completions", s.handleChat)
	r.Post("/v1/messages", s.handleMessages)
	r.Post("/v1/responses", s.handleResponses)
	r.Post("/v1beta/models/{model}:generateContent", s.handleGeminiGenerate)
	r.Post("/v1beta/models/{model}:streamGenerateContent", s.handleGeminiStream)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
