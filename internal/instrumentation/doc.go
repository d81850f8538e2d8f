// Package instrumentation provides OpenTelemetry metrics and tracing for the
// dynamic Kubernetes client.
//
// Instrumentation is off by default. When enabled, metrics are exported via
// Prometheus (served on /metrics by the CLI), OTLP or stdout, and spans via
// OTLP or stdout.
//
// # Metrics
//
// API server requests:
//   - kubernetes_api_requests_total: requests by method and status class
//   - kubernetes_api_request_duration_seconds: request latency
//
// Object operations:
//   - kubernetes_operations_total: operations by operation, status and API group class
//   - kubernetes_operation_duration_seconds: operation latency
//
// Discovery cache:
//   - discovery_cache_hits_total, discovery_cache_misses_total
//   - discovery_cache_refreshes_total: stored snapshots by API group class
//
// Watches:
//   - active_watch_sessions: open sessions
//   - watch_events_total: delivered events by event type
//   - watch_sessions_ended_total: ended sessions by reason
//
// # Cardinality Considerations
//
// Clusters with many CRDs serve hundreds of API groups. By default operation
// metrics only carry the API group class (core, builtin, custom). Set
// METRICS_DETAILED_LABELS=true to add API group, kind and namespace labels.
//
// # Tracing
//
// Every Object API operation and watch runs in a client span named
// "k8s.<operation>" carrying the group-version, kind, namespace and the HTTP
// status code of the response.
//
// # Configuration
//
// Configuration is read from the environment by DefaultConfig:
//
//	INSTRUMENTATION_ENABLED=true
//	METRICS_EXPORTER=prometheus|otlp|stdout
//	TRACING_EXPORTER=otlp|stdout|none
//	OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
//	OTEL_EXPORTER_OTLP_INSECURE=true
//	OTEL_TRACES_SAMPLER_ARG=0.1
//	METRICS_DETAILED_LABELS=false
//
// # Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	client, err := k8s.NewClient(&k8s.ClientConfig{Metrics: provider.Metrics()})
package instrumentation
