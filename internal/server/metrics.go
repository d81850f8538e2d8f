package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/dynamic-kubernetes/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default listen address of the metrics server.
	DefaultMetricsAddr = ":9090"

	// DefaultReadHeaderTimeout is the default timeout for reading request headers
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds a graceful shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// MetricsServerConfig configures a MetricsServer.
type MetricsServerConfig struct {
	// Addr is the listen address (default ":9090").
	Addr string

	// InstrumentationProvider must be set. Metrics are only served when it
	// exports to Prometheus.
	InstrumentationProvider *instrumentation.Provider

	// Health is optional. When set, /healthz and /readyz are served as well.
	Health *HealthChecker
}

// MetricsServer serves Prometheus metrics and health endpoints on a dedicated
// listener.
type MetricsServer struct {
	addr       string
	httpServer *http.Server
}

// NewMetricsServer creates a MetricsServer. It does not start listening.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.InstrumentationProvider == nil {
		return nil, errors.New("instrumentation provider is required")
	}

	addr := config.Addr
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	mux := http.NewServeMux()
	// The OTel prometheus exporter registers with the default Prometheus
	// registry, which promhttp.Handler() serves.
	mux.Handle("/metrics", promhttp.Handler())
	if config.Health != nil {
		config.Health.RegisterHealthEndpoints(mux)
	} else {
		mux.Handle("/healthz", NewHealthChecker("").LivenessHandler())
	}

	return &MetricsServer{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
		},
	}, nil
}

// Addr returns the listen address.
func (s *MetricsServer) Addr() string {
	return s.addr
}

// Handler returns the HTTP handler serving the endpoints.
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown is called. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *MetricsServer) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return fmt.Errorf("metrics server on %s: %w", s.addr, err)
	}
	return nil
}

// Shutdown stops the server gracefully. It is safe to call without Start.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
