package usage

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/llmrouter/gateway/internal/ir"
)

func TestPrometheusSink_RecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.Record(context.Background(), "smart", "anthropic", ir.Usage{
		InputTokens:  100,
		OutputTokens: 40,
		CachedTokens: 10,
	}, Timing{TTFT: 200 * time.Millisecond, Total: 800 * time.Millisecond})

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "llmrouter_prompt_tokens_total" {
			continue
		}
		for _, m := range f.Metric {
			got[labelValue(m, "alias")] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(100), got["smart"])
}

func TestPrometheusSink_RecordsDisconnectsAndChunkCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.Record(context.Background(), "smart", "anthropic", ir.Usage{InputTokens: 10}, Timing{
		Total:      500 * time.Millisecond,
		ChunkCount: 7,
		Status:     StatusClientDisconnect,
	})

	families, err := reg.Gather()
	require.NoError(t, err)

	var disconnects float64
	var chunkSamples uint64
	for _, f := range families {
		switch f.GetName() {
		case "llmrouter_client_disconnects_total":
			for _, m := range f.Metric {
				if labelValue(m, "alias") == "smart" {
					disconnects = m.GetCounter().GetValue()
				}
			}
		case "llmrouter_stream_chunks":
			for _, m := range f.Metric {
				if labelValue(m, "alias") == "smart" {
					chunkSamples = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	require.Equal(t, float64(1), disconnects)
	require.Equal(t, uint64(1), chunkSamples)
}

func TestPrometheusSink_OKStatusDoesNotIncrementDisconnects(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.Record(context.Background(), "smart", "anthropic", ir.Usage{InputTokens: 10}, Timing{
		Total:  500 * time.Millisecond,
		Status: StatusOK,
	})

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != "llmrouter_client_disconnects_total" {
			continue
		}
		for _, m := range f.Metric {
			if labelValue(m, "alias") == "smart" {
				require.Equal(t, float64(0), m.GetCounter().GetValue())
			}
		}
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.Label {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
