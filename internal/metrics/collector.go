// Package metrics is a small Prometheus-text-format collector, kept
// dependency-free so the relay's only /metrics cost is a few atomics.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = New()

// Registry aggregates counters and histograms.
type Registry struct {
	mu         sync.Mutex
	counters   []*Counter
	histograms []*Histogram
	startTime  time.Time
}

func New() *Registry {
	return &Registry{startTime: time.Now()}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Counter registers (or returns) a counter by name.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		if c.name == name {
			return c
		}
	}
	c := &Counter{name: name, help: help}
	r.counters = append(r.counters, c)
	return c
}

// Histogram registers (or returns) a histogram by name.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.histograms {
		if h.name == name {
			return h
		}
	}
	sort.Float64s(bounds)
	h := &Histogram{name: name, help: help, bounds: bounds, buckets: make([]int64, len(bounds))}
	r.histograms = append(r.histograms, h)
	return h
}

// Render produces the Prometheus text exposition.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP chatrelay_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE chatrelay_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "chatrelay_uptime_seconds %d\n", int64(time.Since(r.startTime).Seconds()))

	for _, c := range r.counters {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.Value())
	}
	for _, h := range r.histograms {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for i, le := range h.bounds {
			fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, le, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
		fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
		fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		h.mu.Unlock()
	}
	return sb.String()
}

// Handler serves the exposition over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.Render())
	}
}

// Metrics used across the relay.
var (
	WebhooksTotal     = Collector.Counter("chatrelay_webhooks_total", "Total webhook events received")
	RepliesTotal      = Collector.Counter("chatrelay_replies_total", "Total replies delivered to the chat platform")
	IgnoredTotal      = Collector.Counter("chatrelay_ignored_total", "Webhook events ignored by the pipeline filters")
	PipelineErrors    = Collector.Counter("chatrelay_pipeline_errors_total", "Pipeline invocations ending in error")
	HistoryFailures   = Collector.Counter("chatrelay_history_failures_total", "Best-effort history fetches that failed")
	InferenceFailures = Collector.Counter("chatrelay_inference_failures_total", "Inference calls that returned a classified failure")

	InferenceLatency = Collector.Histogram("chatrelay_inference_latency_seconds",
		"Inference request latency in seconds", []float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)
