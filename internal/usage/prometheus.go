package usage

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/llmrouter/gateway/internal/ir"
)

// PrometheusSink is the default Sink, publishing per-alias/provider
// counters and histograms. Register it once against the default registry
// (or pass a scoped registerer in tests) and wire the result into the
// server.
type PrometheusSink struct {
	promptTokens     *prometheus.CounterVec
	completionTokens *prometheus.CounterVec
	cachedTokens     *prometheus.CounterVec
	ttft             *prometheus.HistogramVec
	total            *prometheus.HistogramVec
	disconnects      *prometheus.CounterVec
	streamChunks     *prometheus.HistogramVec
}

// NewPrometheusSink registers its metrics against reg and returns a Sink
// ready to record requests.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	labels := []string{"alias", "provider"}
	return &PrometheusSink{
		promptTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_prompt_tokens_total",
			Help: "Total prompt (input) tokens billed, by alias and provider.",
		}, labels),
		completionTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_completion_tokens_total",
			Help: "Total completion (output) tokens billed, by alias and provider.",
		}, labels),
		cachedTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_cached_tokens_total",
			Help: "Total prompt tokens served from a provider's prompt cache.",
		}, labels),
		ttft: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrouter_ttft_seconds",
			Help:    "Time to first streamed token, by alias and provider.",
			Buckets: prometheus.DefBuckets,
		}, labels),
		total: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrouter_request_duration_seconds",
			Help:    "End-to-end request duration, by alias and provider.",
			Buckets: prometheus.DefBuckets,
		}, labels),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_client_disconnects_total",
			Help: "Streamed requests that ended because the client disconnected, by alias and provider.",
		}, labels),
		streamChunks: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrouter_stream_chunks",
			Help:    "Number of stream chunks delivered before completion or disconnect, by alias and provider.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, labels),
	}
}

// Record implements Sink.
func (s *PrometheusSink) Record(_ context.Context, alias, provider string, u ir.Usage, t Timing) {
	labels := prometheus.Labels{"alias": alias, "provider": provider}
	s.promptTokens.With(labels).Add(float64(u.InputTokens))
	s.completionTokens.With(labels).Add(float64(u.OutputTokens))
	s.cachedTokens.With(labels).Add(float64(u.CachedTokens))
	if t.TTFT > 0 {
		s.ttft.With(labels).Observe(t.TTFT.Seconds())
	}
	if t.Total > 0 {
		s.total.With(labels).Observe(t.Total.Seconds())
	}
	if t.ChunkCount > 0 {
		s.streamChunks.With(labels).Observe(float64(t.ChunkCount))
	}
	if t.Status == StatusClientDisconnect {
		s.disconnects.With(labels).Inc()
	}
}
