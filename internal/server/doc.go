// Package server provides the HTTP endpoints a long-running client process
// exposes next to its work: Prometheus metrics on /metrics and the /healthz
// and /readyz health endpoints.
//
// The endpoints run on a dedicated listener so that a watch left running in a
// pod can be scraped and health-checked without any other traffic:
//
//	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
//		Addr:                    ":9090",
//		InstrumentationProvider: provider,
//		Health:                  server.NewHealthChecker(version),
//	})
//	go metricsServer.Start()
//	defer metricsServer.Shutdown(ctx)
package server
