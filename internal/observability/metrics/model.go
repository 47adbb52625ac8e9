package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type modelKey struct {
	provider string
	model    string
	outcome  string
}

type modelLatencyKey struct {
	provider string
	model    string
}

type modelMetrics struct {
	mu       sync.Mutex
	requests map[modelKey]uint64
	tokens   map[modelLatencyKey]uint64
	latency  map[modelLatencyKey]*histogram
}

var modelCollector = &modelMetrics{
	requests: make(map[modelKey]uint64),
	tokens:   make(map[modelLatencyKey]uint64),
	latency:  make(map[modelLatencyKey]*histogram),
}

// ObserveModelCall records metrics about a single model invocation.
func ObserveModelCall(provider, model string, err error, totalTokens int, duration time.Duration) {
	modelCollector.observe(provider, model, err, totalTokens, duration)
}

func (m *modelMetrics) observe(provider, model string, err error, totalTokens int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests[modelKey{provider: provider, model: model, outcome: outcome}]++

	key := modelLatencyKey{provider: provider, model: model}
	if totalTokens > 0 {
		m.tokens[key] += uint64(totalTokens)
	}
	hist := m.latency[key]
	if hist == nil {
		hist = newHistogram()
		m.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func (m *modelMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	type requestMetric struct {
		modelKey
		value uint64
	}
	type tokenMetric struct {
		modelLatencyKey
		value uint64
	}
	type latencyMetric struct {
		modelLatencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	reqs := make([]requestMetric, 0, len(m.requests))
	for key, value := range m.requests {
		reqs = append(reqs, requestMetric{modelKey: key, value: value})
	}
	toks := make([]tokenMetric, 0, len(m.tokens))
	for key, value := range m.tokens {
		toks = append(toks, tokenMetric{modelLatencyKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(m.latency))
	for key, hist := range m.latency {
		lats = append(lats, latencyMetric{
			modelLatencyKey: key,
			buckets:         append([]float64(nil), hist.buckets...),
			counts:          append([]uint64(nil), hist.counts...),
			sum:             hist.sum,
			count:           hist.count,
		})
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].provider == reqs[j].provider {
			if reqs[i].model == reqs[j].model {
				return reqs[i].outcome < reqs[j].outcome
			}
			return reqs[i].model < reqs[j].model
		}
		return reqs[i].provider < reqs[j].provider
	})
	sort.Slice(toks, func(i, j int) bool {
		if toks[i].provider == toks[j].provider {
			return toks[i].model < toks[j].model
		}
		return toks[i].provider < toks[j].provider
	})
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].provider == lats[j].provider {
			return lats[i].model < lats[j].model
		}
		return lats[i].provider < lats[j].provider
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP openprompt_model_requests_total Total number of model invocations by outcome.\n")
	builder.WriteString("# TYPE openprompt_model_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("openprompt_model_requests_total{provider=\"%s\",model=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.provider), escape(metric.model), escape(metric.outcome), metric.value))
	}

	builder.WriteString("# HELP openprompt_model_tokens_total Total number of tokens consumed by model invocations.\n")
	builder.WriteString("# TYPE openprompt_model_tokens_total counter\n")
	for _, metric := range toks {
		builder.WriteString(fmt.Sprintf("openprompt_model_tokens_total{provider=\"%s\",model=\"%s\"} %d\n",
			escape(metric.provider), escape(metric.model), metric.value))
	}

	builder.WriteString("# HELP openprompt_model_request_duration_seconds Model invocation duration in seconds.\n")
	builder.WriteString("# TYPE openprompt_model_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("openprompt_model_request_duration_seconds_bucket{provider=\"%s\",model=\"%s\",le=\"%s\"} %d\n",
				escape(metric.provider), escape(metric.model), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("openprompt_model_request_duration_seconds_bucket{provider=\"%s\",model=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.provider), escape(metric.model), metric.count))
		builder.WriteString(fmt.Sprintf("openprompt_model_request_duration_seconds_sum{provider=\"%s\",model=\"%s\"} %s\n",
			escape(metric.provider), escape(metric.model), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("openprompt_model_request_duration_seconds_count{provider=\"%s\",model=\"%s\"} %d\n",
			escape(metric.provider), escape(metric.model), metric.count))
	}

	return builder.String()
}
