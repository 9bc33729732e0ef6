// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for relaybot. It outputs text/plain in Prometheus exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns every registered metric in exposition format, grouped by
// metric name.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP relaybot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE relaybot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "relaybot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	// Counters
	helpWritten := make(map[string]bool)
	for _, key := range sortedKeys(&c.counters) {
		v, _ := c.counters.Load(key)
		ctr := v.(*Counter)
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	// Gauges
	helpWritten = make(map[string]bool)
	for _, key := range sortedKeys(&c.gauges) {
		v, _ := c.gauges.Load(key)
		g := v.(*Gauge)
		if !helpWritten[g.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			helpWritten[g.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	// Histograms
	for _, key := range sortedKeys(&c.histograms) {
		v, _ := c.histograms.Load(key)
		h := v.(*Histogram)
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
		}
		fmt.Fprintf(&sb, "%sle=\"+Inf\"} %d\n", prefix, h.count)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	return sb.String()
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// --- Metrics used across the application ---

var (
	PollsTotal      = Collector.Counter("relaybot_polls_total", "Transport polls attempted", "")
	PollFailures    = Collector.Counter("relaybot_poll_failures_total", "Transport polls that failed", "")
	EventsReceived  = Collector.Counter("relaybot_events_received_total", "Inbound events returned by the transport", "")
	EventsProcessed = Collector.Counter("relaybot_events_processed_total", "Events persisted and replied to", "")
	SendFailures    = Collector.Counter("relaybot_send_failures_total", "Replies whose send failed after persisting", "")

	DroppedFiltered    = Collector.Counter("relaybot_events_dropped_total", "Events dropped before reply", `reason="sender_not_allowed"`)
	DroppedCompletion  = Collector.Counter("relaybot_events_dropped_total", "Events dropped before reply", `reason="completion"`)
	DroppedPersistence = Collector.Counter("relaybot_events_dropped_total", "Events dropped before reply", `reason="persistence"`)
	DroppedPanic       = Collector.Counter("relaybot_events_dropped_total", "Events dropped before reply", `reason="panic"`)

	CompletionRequests = Collector.Counter("relaybot_completion_requests_total", "Completion requests sent to a provider", "")
	CompletionFailures = Collector.Counter("relaybot_completion_failures_total", "Completion requests that failed", "")
	ChatRequests       = Collector.Counter("relaybot_chat_requests_total", "Synchronous chat requests", "")
	ChatFallbacks      = Collector.Counter("relaybot_chat_fallbacks_total", "Chat replies that used the fallback text", "")
	ManualSends        = Collector.Counter("relaybot_manual_sends_total", "Sends requested through the API", "")

	WorkerState = Collector.Gauge("relaybot_worker_state", "Relay worker state (0 idle, 1 polling, 2 draining)", "")

	CompletionLatency = Collector.Histogram("relaybot_completion_latency_seconds", "Completion latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	BatchSize = Collector.Histogram("relaybot_batch_size", "Events per polled batch", "",
		[]float64{0, 1, 2, 5, 10, 25, 50})
)
