package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	// Common attributes (reused across metrics)
	attrMethod       = "method"
	attrStatusClass  = "status_class"
	attrStatus       = "status"
	attrOperation    = "operation"
	attrAPIGroup     = "api_group"
	attrGroupClass   = "api_group_class"
	attrKind         = "kind"
	attrNamespace    = "namespace"
	attrGroupVersion = "group_version"
	attrEventType    = "event_type"
	attrReason       = "reason"
)

// durationBuckets are shared by all latency histograms.
var durationBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// API server request metrics
	apiRequestsTotal   metric.Int64Counter
	apiRequestDuration metric.Float64Histogram

	// Object API operation metrics
	k8sOperationsTotal   metric.Int64Counter
	k8sOperationDuration metric.Float64Histogram

	// Discovery cache metrics
	discoveryCacheHits      metric.Int64Counter
	discoveryCacheMisses    metric.Int64Counter
	discoveryCacheRefreshes metric.Int64Counter

	// Watch metrics
	activeWatches    metric.Int64UpDownCounter
	watchEventsTotal metric.Int64Counter
	watchEndsTotal   metric.Int64Counter

	// Configuration
	// detailedLabels controls whether high-cardinality labels (namespace, kind)
	// are included in operation metrics
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// API Server Request Metrics
	m.apiRequestsTotal, err = meter.Int64Counter(
		"kubernetes_api_requests_total",
		metric.WithDescription("Total number of requests sent to the Kubernetes API server"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes_api_requests_total counter: %w", err)
	}

	m.apiRequestDuration, err = meter.Float64Histogram(
		"kubernetes_api_request_duration_seconds",
		metric.WithDescription("Kubernetes API server request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes_api_request_duration_seconds histogram: %w", err)
	}

	// Object API Operation Metrics
	m.k8sOperationsTotal, err = meter.Int64Counter(
		"kubernetes_operations_total",
		metric.WithDescription("Total number of Kubernetes object operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes_operations_total counter: %w", err)
	}

	m.k8sOperationDuration, err = meter.Float64Histogram(
		"kubernetes_operation_duration_seconds",
		metric.WithDescription("Kubernetes object operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes_operation_duration_seconds histogram: %w", err)
	}

	// Discovery Cache Metrics
	m.discoveryCacheHits, err = meter.Int64Counter(
		"discovery_cache_hits_total",
		metric.WithDescription("Total number of resource lookups served from the discovery cache"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery_cache_hits_total counter: %w", err)
	}

	m.discoveryCacheMisses, err = meter.Int64Counter(
		"discovery_cache_misses_total",
		metric.WithDescription("Total number of resource lookups that required a discovery fetch"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery_cache_misses_total counter: %w", err)
	}

	m.discoveryCacheRefreshes, err = meter.Int64Counter(
		"discovery_cache_refreshes_total",
		metric.WithDescription("Total number of discovery snapshots stored, by API group class"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery_cache_refreshes_total counter: %w", err)
	}

	// Watch Metrics
	m.activeWatches, err = meter.Int64UpDownCounter(
		"active_watch_sessions",
		metric.WithDescription("Number of open watch sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_watch_sessions gauge: %w", err)
	}

	m.watchEventsTotal, err = meter.Int64Counter(
		"watch_events_total",
		metric.WithDescription("Total number of watch events delivered, by event type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch_events_total counter: %w", err)
	}

	m.watchEndsTotal, err = meter.Int64Counter(
		"watch_sessions_ended_total",
		metric.WithDescription("Total number of watch sessions that ended, by reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch_sessions_ended_total counter: %w", err)
	}

	return m, nil
}

// RecordAPIRequest records one request to the API server with its method,
// status code class and duration. A statusCode of 0 marks a transport failure.
func (m *Metrics) RecordAPIRequest(ctx context.Context, method string, statusCode int, duration time.Duration) {
	if m == nil || m.apiRequestsTotal == nil || m.apiRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrStatusClass, ClassifyStatusCode(statusCode)),
	}

	m.apiRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.apiRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordK8sOperation records an Object API operation with operation type,
// group-version, kind, namespace, status, and duration.
//
// CARDINALITY NOTE: When detailedLabels is false (default), only operation,
// status and the classified API group are recorded to avoid cardinality
// explosion with many custom resources. When detailedLabels is true, the API
// group, kind and namespace are also included.
func (m *Metrics) RecordK8sOperation(ctx context.Context, operation, groupVersion, kind, namespace, status string, duration time.Duration) {
	if m == nil || m.k8sOperationsTotal == nil || m.k8sOperationDuration == nil {
		return // Instrumentation not initialized
	}

	// Always include operation, status and group class (low cardinality)
	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
		attribute.String(attrGroupClass, ClassifyGroupVersion(groupVersion)),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels {
		attrs = append(attrs,
			attribute.String(attrAPIGroup, GroupFromGroupVersion(groupVersion)),
			attribute.String(attrKind, kind),
			attribute.String(attrNamespace, namespace),
		)
	}

	m.k8sOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.k8sOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheHit records a resource lookup served from the discovery cache.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil || m.discoveryCacheHits == nil {
		return // Instrumentation not initialized
	}
	m.discoveryCacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a resource lookup that was not in the discovery cache.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil || m.discoveryCacheMisses == nil {
		return // Instrumentation not initialized
	}
	m.discoveryCacheMisses.Add(ctx, 1)
}

// RecordCacheRefresh records a replaced discovery snapshot.
func (m *Metrics) RecordCacheRefresh(ctx context.Context, groupVersion string) {
	if m == nil || m.discoveryCacheRefreshes == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrGroupClass, ClassifyGroupVersion(groupVersion)),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrGroupVersion, groupVersion))
	}
	m.discoveryCacheRefreshes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWatchEvent records one delivered watch event.
func (m *Metrics) RecordWatchEvent(ctx context.Context, eventType string) {
	if m == nil || m.watchEventsTotal == nil {
		return // Instrumentation not initialized
	}
	m.watchEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrEventType, eventType)))
}

// WatchStarted increments the open watch sessions gauge.
func (m *Metrics) WatchStarted(ctx context.Context) {
	if m == nil || m.activeWatches == nil {
		return // Instrumentation not initialized
	}
	m.activeWatches.Add(ctx, 1)
}

// WatchEnded decrements the open watch sessions gauge and counts the reason
// the session ended ("closed" or "errored").
func (m *Metrics) WatchEnded(ctx context.Context, reason string) {
	if m == nil || m.activeWatches == nil || m.watchEndsTotal == nil {
		return // Instrumentation not initialized
	}
	m.activeWatches.Add(ctx, -1)
	m.watchEndsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// CacheCallback adapts Metrics to the callback interface the discovery cache
// reports through.
func (m *Metrics) CacheCallback() *CacheCallback {
	return &CacheCallback{metrics: m}
}

// CacheCallback forwards discovery cache events to Metrics. The cache calls it
// without a request context, so metrics are recorded against a background one.
type CacheCallback struct {
	metrics *Metrics
}

// OnCacheHit implements the cache metrics callback.
func (c *CacheCallback) OnCacheHit() {
	c.metrics.RecordCacheHit(context.Background())
}

// OnCacheMiss implements the cache metrics callback.
func (c *CacheCallback) OnCacheMiss() {
	c.metrics.RecordCacheMiss(context.Background())
}

// OnCacheRefresh implements the cache metrics callback.
func (c *CacheCallback) OnCacheRefresh(groupVersion string) {
	c.metrics.RecordCacheRefresh(context.Background(), groupVersion)
}
