// Package metrics exposes door counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the door's counters on a private registry.
type Metrics struct {
	reg     *prometheus.Registry
	knocks  *prometheus.CounterVec
	actions *prometheus.CounterVec
}

// New creates and registers the door counters.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		knocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rknock_knocks_total",
			Help: "Knock datagrams received, by verification result.",
		}, []string{"result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rknock_actions_total",
			Help: "Allow-action executions, by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(m.knocks, m.actions)
	return m
}

// ObserveKnock counts one datagram with the given result label, as returned
// by protocol.Reason.
func (m *Metrics) ObserveKnock(result string) {
	m.knocks.WithLabelValues(result).Inc()
}

// ObserveAction counts one allow-action run.
func (m *Metrics) ObserveAction(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.actions.WithLabelValues(result).Inc()
}

// Knocks returns the knock counter for result. Intended for tests.
func (m *Metrics) Knocks(result string) prometheus.Counter {
	return m.knocks.WithLabelValues(result)
}

// Actions returns the action counter for result ("ok" or "failed").
func (m *Metrics) Actions(result string) prometheus.Counter {
	return m.actions.WithLabelValues(result)
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve serves /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
