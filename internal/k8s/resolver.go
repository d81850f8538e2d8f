package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/giantswarm/dynamic-kubernetes/internal/logging"
)

// ResourceLister fetches the discovery listing of one group-version.
type ResourceLister interface {
	ServerResourcesForGroupVersion(ctx context.Context, groupVersion string) (*metav1.APIResourceList, error)
}

// Resolver maps (group-version, kind) to resource descriptors, caching one
// discovery listing per group-version.
//
// A kind that is missing from the cached listing triggers exactly one refetch
// of that group-version, so resources installed after the first lookup (for
// example a freshly applied CRD) are found without restarting the client.
type Resolver struct {
	lister ResourceLister
	cache  *resourceCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver creates a Resolver. metrics may be nil.
func NewResolver(lister ResourceLister, metrics CacheMetricsCallback, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		lister: lister,
		cache:  newResourceCache(metrics),
		logger: logger,
	}
}

// Resolve returns the descriptor for kind in groupVersion. An empty
// groupVersion means the core "v1" group.
func (r *Resolver) Resolve(ctx context.Context, groupVersion, kind string) (ResourceDescriptor, error) {
	if groupVersion == "" {
		groupVersion = DefaultAPIVersion
	}
	if kind == "" {
		return ResourceDescriptor{}, invalidSpec("kind", "must not be empty")
	}

	if d, ok := r.cache.lookup(groupVersion, kind); ok {
		return d, nil
	}

	snapshot, err := r.Refresh(ctx, groupVersion)
	if err != nil {
		if errors.Is(err, ErrUnknownResource) {
			return ResourceDescriptor{}, &UnknownResourceError{GroupVersion: groupVersion, Kind: kind}
		}
		return ResourceDescriptor{}, err
	}

	if d, ok := findKind(snapshot, kind); ok {
		return d, nil
	}
	return ResourceDescriptor{}, &UnknownResourceError{GroupVersion: groupVersion, Kind: kind}
}

// Refresh fetches the listing of groupVersion and replaces the cached snapshot.
// Concurrent refreshes of the same group-version share one request. The shared
// request is not cancelled with any single caller's ctx; each caller stops
// waiting when its own ctx ends.
func (r *Resolver) Refresh(ctx context.Context, groupVersion string) ([]ResourceDescriptor, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(groupVersion, func() (interface{}, error) {
		list, err := r.lister.ServerResourcesForGroupVersion(fetchCtx, groupVersion)
		if err != nil {
			if IsNotFound(err) {
				return nil, &UnknownResourceError{GroupVersion: groupVersion}
			}
			return nil, fmt.Errorf("failed to discover resources for %q: %w", groupVersion, err)
		}

		snapshot := descriptorsFromList(groupVersion, list)
		r.cache.store(groupVersion, snapshot)

		r.logger.Debug("Refreshed resource cache",
			logging.GroupVersion(groupVersion),
			slog.Int("resources", len(snapshot)))
		return snapshot, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("Joined in-flight discovery request", logging.GroupVersion(groupVersion))
		}
		return cloneDescriptors(res.Val.([]ResourceDescriptor)), nil
	}
}

// Invalidate drops the cached snapshot for groupVersion.
func (r *Resolver) Invalidate(groupVersion string) {
	r.cache.invalidate(groupVersion)
}

// Cached returns a copy of the cached snapshot for groupVersion without
// fetching.
func (r *Resolver) Cached(groupVersion string) ([]ResourceDescriptor, bool) {
	snapshot, ok := r.cache.get(groupVersion)
	if !ok {
		return nil, false
	}
	return cloneDescriptors(snapshot), true
}

// CachedGroupVersions returns every group-version with a cached snapshot.
func (r *Resolver) CachedGroupVersions() []string {
	return r.cache.groupVersions()
}

// cloneDescriptors copies a snapshot so callers cannot modify the cached one.
func cloneDescriptors(snapshot []ResourceDescriptor) []ResourceDescriptor {
	out := make([]ResourceDescriptor, len(snapshot))
	for i, d := range snapshot {
		d.ShortNames = append([]string(nil), d.ShortNames...)
		d.Verbs = append([]string(nil), d.Verbs...)
		out[i] = d
	}
	return out
}

func descriptorsFromList(groupVersion string, list *metav1.APIResourceList) []ResourceDescriptor {
	if list == nil {
		return []ResourceDescriptor{}
	}
	snapshot := make([]ResourceDescriptor, 0, len(list.APIResources))
	for _, res := range list.APIResources {
		// Subresources such as "deployments/scale" share the parent's kind.
		if strings.Contains(res.Name, "/") {
			continue
		}
		snapshot = append(snapshot, ResourceDescriptor{
			GroupVersion: groupVersion,
			Kind:         res.Kind,
			Name:         res.Name,
			Namespaced:   res.Namespaced,
			SingularName: res.SingularName,
			ShortNames:   append([]string(nil), res.ShortNames...),
			Verbs:        append([]string(nil), res.Verbs...),
		})
	}
	return snapshot
}

// transportLister reads discovery listings through a Transport.
type transportLister struct {
	transport Transport
}

// NewTransportLister returns a ResourceLister that issues GET /api/v1 or
// GET /apis/<group>/<version> through transport.
func NewTransportLister(transport Transport) ResourceLister {
	return &transportLister{transport: transport}
}

func (l *transportLister) ServerResourcesForGroupVersion(ctx context.Context, groupVersion string) (*metav1.APIResourceList, error) {
	path := "/apis/" + groupVersion
	if !strings.Contains(groupVersion, "/") {
		path = "/api/" + groupVersion
	}

	req := &Request{
		Method: http.MethodGet,
		Path:   path,
		Header: http.Header{"Accept": []string{ContentTypeJSON}},
	}
	resp, err := l.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, newAPIError(resp.StatusCode, decodeStatus(resp.Body), req.Method, req.Path)
	}

	list := &metav1.APIResourceList{}
	if err := json.Unmarshal(resp.Body, list); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response for %q: %w", groupVersion, err)
	}
	if list.GroupVersion == "" {
		list.GroupVersion = groupVersion
	}
	return list, nil
}

// decodeStatus returns the metav1.Status encoded in body, or nil.
func decodeStatus(body []byte) *metav1.Status {
	if len(body) == 0 {
		return nil
	}
	status := &metav1.Status{}
	if err := json.Unmarshal(body, status); err != nil {
		return nil
	}
	return status
}
