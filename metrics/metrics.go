// Package metrics exposes a Prometheus scrape endpoint on its own listener,
// separate from the API server.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint with a dedicated registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	// RegistryMutations counts confirmed registry writes by event kind.
	RegistryMutations *prometheus.CounterVec

	// MirrorApplied counts events applied by the mirror projector.
	MirrorApplied prometheus.Counter

	// MirrorLag tracks how far the mirror cursor trails the registry.
	MirrorLag prometheus.Gauge

	// BlobBytes counts blob payload bytes by direction (upload/download).
	BlobBytes *prometheus.CounterVec
}

// New creates a metrics server for the given service name listening on addr.
// The name is used as the metric namespace, with dashes mapped to
// underscores.
func New(name, addr string) (*MetricsServer, error) {
	name = strings.ReplaceAll(name, "-", "_")
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	m := &MetricsServer{
		registry: registry,
		RegistryMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "registry_mutations_total",
			Help:      "Confirmed registry writes by event kind.",
		}, []string{"kind"}),
		MirrorApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: name,
			Name:      "mirror_events_applied_total",
			Help:      "Events applied by the mirror projector.",
		}),
		MirrorLag: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: name,
			Name:      "mirror_lag_events",
			Help:      "Registry sequence minus mirror cursor.",
		}),
		BlobBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "blob_bytes_total",
			Help:      "Blob payload bytes by direction.",
		}, []string{"direction"}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return m, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
