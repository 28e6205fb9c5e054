// Package metrics exposes Prometheus instrumentation for the dialog engine.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/flowbot/core/logger"
)

const namespace = "flowbot"

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messages        *prometheus.CounterVec
	handleDuration  prometheus.Histogram
	events          *prometheus.CounterVec
	sends           *prometheus.CounterVec
	inconsistencies prometheus.Counter
	reloads         *prometheus.CounterVec
	catalogErrors   prometheus.Gauge
	activeSessions  prometheus.Gauge
	updates         *prometheus.CounterVec
	transportState  prometheus.Gauge
	transportStarts *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by routing outcome.",
		}, []string{"outcome"}),
		handleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one inbound message, sends included.",
			Buckets:   prometheus.DefBuckets,
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session transitions by kind.",
		}, []string{"kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outgoing messages handed to the transport by status.",
		}, []string{"status"}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_inconsistencies_total",
			Help:      "Session transitions applied in memory but not persisted.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reloads_total",
			Help:      "Catalog rebuilds by status.",
		}, []string{"status"}),
		catalogErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_config_errors",
			Help:      "Configuration problems found in the current catalog snapshot.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_sessions",
			Help:      "Sessions held in the in-memory cache.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_updates_total",
			Help:      "Updates received from the chat platform by kind.",
		}, []string{"kind"}),
		transportState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_state",
			Help:      "Transport lifecycle state: 0 stopped, 1 starting, 2 running.",
		}),
		transportStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_start_attempts_total",
			Help:      "Transport start attempts by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.messages, m.handleDuration, m.events, m.sends, m.inconsistencies,
		m.reloads, m.catalogErrors, m.activeSessions,
		m.updates, m.transportState, m.transportStarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveMessage counts one handled message and its duration.
func (m *Metrics) ObserveMessage(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
	m.handleDuration.Observe(took.Seconds())
}

// IncEvent counts a session transition.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// IncSend counts a transport hand-off.
func (m *Metrics) IncSend(err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(logger.Status(err)).Inc()
}

// IncInconsistency counts an unpersisted transition.
func (m *Metrics) IncInconsistency() {
	if m == nil {
		return
	}
	m.inconsistencies.Inc()
}

// ObserveReload records a catalog rebuild and the number of configuration
// problems it found.
func (m *Metrics) ObserveReload(err error, configErrors int) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(logger.Status(err)).Inc()
	if err == nil {
		m.catalogErrors.Set(float64(configErrors))
	}
}

// SetCachedSessions reports the session cache size.
func (m *Metrics) SetCachedSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncUpdate counts one inbound platform update.
func (m *Metrics) IncUpdate(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

// SetTransportState reports the lifecycle state ordinal.
func (m *Metrics) SetTransportState(state int) {
	if m == nil {
		return
	}
	m.transportState.Set(float64(state))
}

// ObserveTransportStart counts a start attempt.
func (m *Metrics) ObserveTransportStart(err error) {
	if m == nil {
		return
	}
	m.transportStarts.WithLabelValues(logger.Status(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "metrics", "metrics.listen", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "metrics", "metrics.listen", slog.String("addr", addr), slog.String("err", err.Error()))
		return err
	}
	return nil
}
