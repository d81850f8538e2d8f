package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"

	"github.com/giantswarm/dynamic-kubernetes/internal/instrumentation"
	"github.com/giantswarm/dynamic-kubernetes/internal/logging"
	"github.com/giantswarm/dynamic-kubernetes/internal/serializer"
)

// Options configures an ObjectAPI.
type Options struct {
	// DefaultNamespace is used for namespaced kinds when the object header
	// does not name a namespace. Defaults to "default".
	DefaultNamespace string

	// Registry decodes responses and encodes request bodies. Defaults to a
	// registry populated from the client-go scheme.
	Registry *serializer.Registry

	// Resolver maps kinds to resources. Defaults to a Resolver that reads
	// discovery through the same transport.
	Resolver *Resolver

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Result is the decoded body of a successful response together with the raw
// response it came from.
type Result struct {
	// Object is decoded by the response's own apiVersion and kind. It is nil
	// when the server sent no body.
	Object   runtime.Object
	Response *Response
}

// ObjectAPI performs create, read, replace, patch, delete, list and watch on
// any resource kind the API server serves.
type ObjectAPI struct {
	transport        Transport
	registry         *serializer.Registry
	resolver         *Resolver
	defaultNamespace string
	logger           *slog.Logger
	metrics          *instrumentation.Metrics
}

// NewObjectAPI creates an ObjectAPI that sends requests through transport.
func NewObjectAPI(transport Transport, opts Options) *ObjectAPI {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultNamespace == "" {
		opts.DefaultNamespace = DefaultNamespace
	}
	if opts.Registry == nil {
		opts.Registry = serializer.NewDefaultRegistry()
	}
	if opts.Resolver == nil {
		var cacheMetrics CacheMetricsCallback
		if opts.Metrics != nil {
			cacheMetrics = opts.Metrics.CacheCallback()
		}
		opts.Resolver = NewResolver(NewTransportLister(transport), cacheMetrics, opts.Logger)
	}

	return &ObjectAPI{
		transport:        transport,
		registry:         opts.Registry,
		resolver:         opts.Resolver,
		defaultNamespace: opts.DefaultNamespace,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
	}
}

// Resolver returns the resolver used to map kinds to resources.
func (a *ObjectAPI) Resolver() *Resolver {
	return a.resolver
}

// DefaultNamespace returns the namespace applied to namespaced kinds when a
// header names none.
func (a *ObjectAPI) DefaultNamespace() string {
	return a.defaultNamespace
}

// Create sends obj to the collection of its kind.
func (a *ObjectAPI) Create(ctx context.Context, obj runtime.Object, opts CreateOptions) (result *Result, err error) {
	header, err := a.headerOf(obj)
	if err != nil {
		return nil, err
	}
	ctx, finish := a.begin(ctx, instrumentation.OperationCreate, header, opts.DryRun)
	defer func() { finish(result, err) }()

	t, err := a.target(ctx, header, ActionCreate)
	if err != nil {
		return nil, err
	}
	body, err := a.encodeFor(obj, t.header)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, &Request{
		Method: http.MethodPost,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, jsonHeaders()),
		Body:   body,
	})
}

// Read fetches the object named by header.
func (a *ObjectAPI) Read(ctx context.Context, header ObjectHeader, opts ReadOptions) (result *Result, err error) {
	ctx, finish := a.begin(ctx, instrumentation.OperationRead, header, false)
	defer func() { finish(result, err) }()

	t, err := a.target(ctx, header, ActionRead)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, acceptHeaders()),
	})
}

// Replace overwrites the stored object with obj. The object must carry a name
// and, for optimistic concurrency, its last observed resourceVersion.
func (a *ObjectAPI) Replace(ctx context.Context, obj runtime.Object, opts ReplaceOptions) (result *Result, err error) {
	header, err := a.headerOf(obj)
	if err != nil {
		return nil, err
	}
	ctx, finish := a.begin(ctx, instrumentation.OperationReplace, header, opts.DryRun)
	defer func() { finish(result, err) }()

	t, err := a.target(ctx, header, ActionReplace)
	if err != nil {
		return nil, err
	}
	body, err := a.encodeFor(obj, t.header)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, &Request{
		Method: http.MethodPut,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, jsonHeaders()),
		Body:   body,
	})
}

// Patch applies patch to the object named by header. The patch bytes are sent
// unchanged; their meaning is selected by NegotiatePatchType.
func (a *ObjectAPI) Patch(ctx context.Context, header ObjectHeader, patch []byte, opts PatchOptions) (result *Result, err error) {
	ctx, finish := a.begin(ctx, instrumentation.OperationPatch, header, opts.DryRun)
	defer func() { finish(result, err) }()

	patchType, err := NegotiatePatchType(opts)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, invalidSpec("patch", "must not be empty")
	}
	trace.SpanFromContext(ctx).SetAttributes(
		instrumentation.NewSpanAttributeBuilder().WithPatchType(string(patchType)).Build()...)

	t, err := a.target(ctx, header, ActionPatch)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, &Request{
		Method: http.MethodPatch,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, map[string]string{
			"Accept":       ContentTypeJSON,
			"Content-Type": string(patchType),
		}),
		Body: patch,
	})
}

// Apply sends obj as a server-side apply patch against its own name. JSON is
// valid YAML, so the encoded object is sent with the apply media type.
func (a *ObjectAPI) Apply(ctx context.Context, obj runtime.Object, opts ApplyOptions) (result *Result, err error) {
	header, err := a.headerOf(obj)
	if err != nil {
		return nil, err
	}
	ctx, finish := a.begin(ctx, instrumentation.OperationApply, header, opts.DryRun)
	defer func() { finish(result, err) }()

	if opts.FieldManager == "" {
		return nil, invalidSpec("fieldManager", "is required for server-side apply")
	}

	t, err := a.target(ctx, header, ActionPatch)
	if err != nil {
		return nil, err
	}
	body, err := a.encodeFor(obj, t.header)
	if err != nil {
		return nil, err
	}

	query := PatchOptions{
		Pretty:       opts.Pretty,
		DryRun:       opts.DryRun,
		FieldManager: opts.FieldManager,
	}.query()
	if opts.Force {
		query.Set("force", "true")
	}

	return a.do(ctx, &Request{
		Method: http.MethodPatch,
		Path:   t.path,
		Query:  query,
		Header: buildHeader(opts.Headers, map[string]string{
			"Accept":       ContentTypeJSON,
			"Content-Type": ContentTypeApplyPatch,
		}),
		Body: body,
	})
}

// Delete removes the object named by header. The result usually holds either
// the object (when finalizers delay removal) or a Status.
func (a *ObjectAPI) Delete(ctx context.Context, header ObjectHeader, opts DeleteOptions) (result *Result, err error) {
	ctx, finish := a.begin(ctx, instrumentation.OperationDelete, header, opts.DryRun)
	defer func() { finish(result, err) }()

	t, err := a.target(ctx, header, ActionDelete)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method: http.MethodDelete,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, acceptHeaders()),
	}
	if deleteOptions := opts.body(); deleteOptions != nil {
		body, err := a.registry.Encode(deleteOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode delete options: %w", err)
		}
		req.Body = body
		req.Header = buildHeader(opts.Headers, jsonHeaders())
	}
	return a.do(ctx, req)
}

// List fetches one page of kind in namespace, or across all namespaces when
// namespace is empty. Callers page by passing the returned list's continue
// token back in ListOptions.Continue.
func (a *ObjectAPI) List(ctx context.Context, apiVersion, kind, namespace string, opts ListOptions) (result *Result, err error) {
	header := ObjectHeader{APIVersion: apiVersion, Kind: kind, Namespace: namespace}
	ctx, finish := a.begin(ctx, instrumentation.OperationList, header, false)
	defer func() { finish(result, err) }()

	t, err := a.target(ctx, header, ActionList)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, acceptHeaders()),
	})
}

// NegotiatePatchType selects the patch media type: a Content-Type entry in
// opts.Headers wins over opts.PatchType, and strategic merge is the default.
// Force is only accepted together with an apply patch.
func NegotiatePatchType(opts PatchOptions) (types.PatchType, error) {
	patchType := opts.PatchType
	for key, value := range opts.Headers {
		if strings.EqualFold(key, "Content-Type") {
			mediaType, _, _ := strings.Cut(value, ";")
			patchType = types.PatchType(strings.TrimSpace(mediaType))
		}
	}
	if patchType == "" {
		patchType = types.StrategicMergePatchType
	}

	switch patchType {
	case types.JSONPatchType, types.MergePatchType, types.StrategicMergePatchType, types.ApplyYAMLPatchType:
	default:
		return "", invalidSpec("patchType", fmt.Sprintf("%q is not a supported patch media type", patchType))
	}

	if opts.Force != nil && patchType != types.ApplyYAMLPatchType {
		return "", invalidSpec("force", "is only supported for "+ContentTypeApplyPatch+" patches")
	}
	return patchType, nil
}

// target is a resolved request destination.
type target struct {
	header     ObjectHeader
	descriptor ResourceDescriptor
	path       string
}

// target validates header, resolves its kind and builds the path. Nothing is
// sent for the object itself if this fails.
func (a *ObjectAPI) target(ctx context.Context, header ObjectHeader, action Action) (target, error) {
	if err := header.validate(action); err != nil {
		return target{}, err
	}

	d, err := a.resolver.Resolve(ctx, header.apiVersion(), header.Kind)
	if err != nil {
		return target{}, err
	}

	path, err := BuildPath(header, action, d, a.defaultNamespace)
	if err != nil {
		return target{}, err
	}
	return target{
		header:     header.normalize(action, d, a.defaultNamespace),
		descriptor: d,
		path:       path,
	}, nil
}

// headerOf reads the identity of obj from its type and object metadata.
func (a *ObjectAPI) headerOf(obj runtime.Object) (ObjectHeader, error) {
	if obj == nil {
		return ObjectHeader{}, invalidSpec("object", "must not be nil")
	}
	gvk, err := a.registry.KindFor(obj)
	if err != nil {
		return ObjectHeader{}, invalidSpec("kind", "must be set on the object")
	}
	accessor, err := meta.Accessor(obj)
	if err != nil {
		return ObjectHeader{}, invalidSpec("metadata", fmt.Sprintf("is not accessible on %T", obj))
	}

	apiVersion, kind := gvk.ToAPIVersionAndKind()
	return ObjectHeader{
		APIVersion: apiVersion,
		Kind:       kind,
		Namespace:  accessor.GetNamespace(),
		Name:       accessor.GetName(),
	}, nil
}

// encodeFor encodes a copy of obj carrying the apiVersion, kind and defaulted
// namespace of header. The caller's object is not modified.
func (a *ObjectAPI) encodeFor(obj runtime.Object, header ObjectHeader) ([]byte, error) {
	out := obj.DeepCopyObject()
	out.GetObjectKind().SetGroupVersionKind(header.GroupVersionKind())
	if accessor, err := meta.Accessor(out); err == nil {
		accessor.SetNamespace(header.Namespace)
	}

	body, err := a.registry.Encode(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", header.Kind, err)
	}
	return body, nil
}

// do sends req and decodes the response.
func (a *ObjectAPI) do(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	resp, err := a.transport.Do(ctx, req)
	if err != nil {
		a.metrics.RecordAPIRequest(ctx, req.Method, 0, time.Since(start))
		if !errors.Is(err, ErrTransport) {
			err = &TransportError{Method: req.Method, Path: req.Path, Err: err}
		}
		return nil, err
	}
	a.metrics.RecordAPIRequest(ctx, req.Method, resp.StatusCode, time.Since(start))
	instrumentation.SetSpanStatusCode(trace.SpanFromContext(ctx), resp.StatusCode)

	for _, warning := range resp.Warnings {
		a.logger.Debug("API server warning", logging.Path(req.Path), slog.String("warning", warning))
	}

	if !isSuccess(resp.StatusCode) {
		return nil, newAPIError(resp.StatusCode, decodeStatus(resp.Body), req.Method, req.Path)
	}

	result := &Result{Response: resp}
	if len(resp.Body) == 0 {
		return result, nil
	}
	result.Object, err = a.registry.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response from %s %s: %w", req.Method, req.Path, err)
	}
	return result, nil
}

// begin starts the span of an operation. The returned function ends the span,
// records the operation metric and logs the outcome.
func (a *ObjectAPI) begin(ctx context.Context, operation string, header ObjectHeader, dryRun bool) (context.Context, func(*Result, error)) {
	start := time.Now()
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithGroupVersion(header.apiVersion()).
		WithResource("", header.Name).
		WithDryRun(dryRun).
		Build()
	ctx, span := instrumentation.StartK8sSpan(ctx, operation, header.Kind, header.Namespace, attrs...)

	return ctx, func(result *Result, err error) {
		defer span.End()
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		statusCode := 0
		if result != nil && result.Response != nil {
			statusCode = result.Response.StatusCode
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			statusCode = apiErr.StatusCode
		}

		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		a.metrics.RecordK8sOperation(ctx, operation, header.apiVersion(), header.Kind, header.Namespace, status, duration)

		logArgs := []any{
			logging.Operation(operation),
			logging.GroupVersion(header.apiVersion()),
			logging.Kind(header.Kind),
			logging.Namespace(header.Namespace),
			logging.ResourceName(header.Name),
			logging.Duration(duration),
			logging.Status(status),
		}
		if statusCode != 0 {
			logArgs = append(logArgs, logging.StatusCode(statusCode))
		}
		if err != nil {
			logArgs = append(logArgs, logging.Err(err))
		}
		a.logger.Debug("Kubernetes operation completed", logArgs...)
	}
}

func acceptHeaders() map[string]string {
	return map[string]string{"Accept": ContentTypeJSON}
}

func jsonHeaders() map[string]string {
	return map[string]string{
		"Accept":       ContentTypeJSON,
		"Content-Type": ContentTypeJSON,
	}
}
