// Package metrics exposes Prometheus metrics for the threadpost server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiranshivaraju/threadpost/internal/publisher"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

const namespace = "threadpost"

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	threadsSubmitted prometheus.Counter
	threadsFinished  *prometheus.CounterVec
	postsPublished   prometheus.Counter
	publishDuration  *prometheus.HistogramVec
	jobsActive       prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		threadsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_submitted_total",
			Help:      "Thread jobs accepted by the registry.",
		}),
		threadsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_finished_total",
			Help:      "Thread jobs that reached a terminal state.",
		}, []string{"state"}),
		postsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_published_total",
			Help:      "Posts accepted by the remote platform.",
		}),
		publishDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of remote publish calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"publisher", "result"}),
		jobsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Thread jobs that are pending or running.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ThreadSubmitted, PostPublished and ThreadFinished satisfy the job
// registry's observer.

func (m *Metrics) ThreadSubmitted() {
	m.threadsSubmitted.Inc()
	m.jobsActive.Inc()
}

func (m *Metrics) PostPublished() { m.postsPublished.Inc() }

func (m *Metrics) ThreadFinished(state models.JobState) {
	m.threadsFinished.WithLabelValues(string(state)).Inc()
	m.jobsActive.Dec()
}

// InstrumentPublisher records the duration and outcome of every publish call.
func (m *Metrics) InstrumentPublisher(next models.Publisher) models.Publisher {
	return &instrumentedPublisher{next: next, duration: m.publishDuration}
}

type instrumentedPublisher struct {
	next     models.Publisher
	duration *prometheus.HistogramVec
}

func (p *instrumentedPublisher) Name() string { return p.next.Name() }

func (p *instrumentedPublisher) Ready() error { return p.next.Ready() }

func (p *instrumentedPublisher) Publish(ctx context.Context, text, replyToID string) (string, error) {
	start := time.Now()
	id, err := p.next.Publish(ctx, text, replyToID)
	p.duration.WithLabelValues(p.next.Name(), publishResult(err)).Observe(time.Since(start).Seconds())
	return id, err
}

func publishResult(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, publisher.ErrCircuitOpen) {
		return "circuit_open"
	}
	var pe *publisher.PlatformError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case pe.StatusCode != 0:
			return "rejected"
		case errors.Is(pe, publisher.ErrTimeout):
			return "timeout"
		}
	}
	return "error"
}

// Middleware records request count and latency labelled by chi route
// pattern, so ids in paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
