// Package metrics exposes scrape counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const namespace = "retroscrape"

// ScrapeMetrics tracks scrape outcomes and media transfers.
type ScrapeMetrics struct {
	gatherer prometheus.Gatherer

	entriesTotal   *prometheus.CounterVec
	mediaTotal     *prometheus.CounterVec
	mediaBytes     *prometheus.CounterVec
	entryDuration  prometheus.Histogram
	activeWorkers  prometheus.Gauge
	fetchDownloads *prometheus.CounterVec
}

// New registers the scrape metrics on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *ScrapeMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &ScrapeMetrics{
		gatherer: reg,
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Catalog entries processed by final scrape status.",
		}, []string{"status"}),
		mediaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_total",
			Help:      "Media fetch outcomes by kind.",
		}, []string{"kind", "result"}),
		mediaBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_bytes_total",
			Help:      "Media bytes downloaded by kind.",
		}, []string{"kind"}),
		entryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entry_duration_seconds",
			Help:      "Time spent on one catalog entry.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Scrape workers currently running.",
		}),
		fetchDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stub_downloads_total",
			Help:      "Stub resolutions by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.entriesTotal, m.mediaTotal, m.mediaBytes, m.entryDuration, m.activeWorkers, m.fetchDownloads)
	return m
}

// The recorders accept a nil receiver so callers never need a guard.

func (m *ScrapeMetrics) EntryFinished(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(status).Inc()
	m.entryDuration.Observe(took.Seconds())
}

func (m *ScrapeMetrics) MediaFetched(kind, result string, size int64) {
	if m == nil {
		return
	}
	m.mediaTotal.WithLabelValues(kind, result).Inc()
	if size > 0 {
		m.mediaBytes.WithLabelValues(kind).Add(float64(size))
	}
}

func (m *ScrapeMetrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *ScrapeMetrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

func (m *ScrapeMetrics) StubResolved(result string) {
	if m == nil {
		return
	}
	m.fetchDownloads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the text exposition format.
func (m *ScrapeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *ScrapeMetrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logutil.GetLogger(ctx).Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
