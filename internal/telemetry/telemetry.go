// Package telemetry records per-request completion metrics and
// structured logs, and exposes them on a Prometheus /metrics endpoint.
package telemetry

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the process's Prometheus collectors and the logger
// used for the per-request completion line the orchestrator's
// finalize step emits for every request dispatched upstream.
type Recorder struct {
	log *slog.Logger

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
}

var (
	collectorsOnce sync.Once
	collectors     *Recorder
)

// New returns a Recorder logging to log. The Prometheus collectors are
// registered on the default registry by the first call and shared by
// every Recorder after that.
func New(log *slog.Logger) *Recorder {
	collectorsOnce.Do(func() { collectors = newCollectors() })
	r := *collectors
	r.log = log
	return &r
}

func newCollectors() *Recorder {
	return &Recorder{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccrouter_requests_total",
			Help: "Completed proxy requests by provider and outcome.",
		}, []string{"provider", "status", "streamed"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccrouter_request_duration_seconds",
			Help:    "Wall-clock duration of a proxied request, from receipt to finalize.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		tokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccrouter_tokens_total",
			Help: "Tokens observed in usage fields, by provider and direction.",
		}, []string{"provider", "direction"}),
	}
}

// Completion is the outcome of a single proxied request, gathered by
// the orchestrator's finalize step whether the request succeeded,
// errored upstream, or was cancelled by the client.
type Completion struct {
	Provider     string
	Model        string
	Status       int
	Streamed     bool
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Cancelled    bool
	Err          error
}

func (r *Recorder) Record(c Completion) {
	streamed := "false"
	if c.Streamed {
		streamed = "true"
	}
	r.requestsTotal.WithLabelValues(c.Provider, statusLabel(c.Status), streamed).Inc()
	r.requestDuration.WithLabelValues(c.Provider).Observe(c.Duration.Seconds())
	if c.InputTokens > 0 {
		r.tokensTotal.WithLabelValues(c.Provider, "input").Add(float64(c.InputTokens))
	}
	if c.OutputTokens > 0 {
		r.tokensTotal.WithLabelValues(c.Provider, "output").Add(float64(c.OutputTokens))
	}

	fields := []any{
		"provider", c.Provider,
		"model", c.Model,
		"status", c.Status,
		"streamed", c.Streamed,
		"duration_ms", c.Duration.Milliseconds(),
		"input_tokens", c.InputTokens,
		"output_tokens", c.OutputTokens,
	}
	switch {
	case c.Cancelled:
		r.log.Warn("request cancelled by client", fields...)
	case c.Err != nil:
		r.log.Error("request completed with error", append(fields, "error", c.Err)...)
	default:
		r.log.Info("request completed", fields...)
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "0"
	}
	return http.StatusText(status)
}

// Handler exposes the collected metrics for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
