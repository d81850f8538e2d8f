package k8s

import (
	"strings"
	"sync"
)

// CacheMetricsCallback is an interface for recording resource cache metrics.
// This allows the cache to report metrics without depending on the instrumentation package.
type CacheMetricsCallback interface {
	// OnCacheHit is called when a kind is found in a cached snapshot.
	OnCacheHit()
	// OnCacheMiss is called when a snapshot is absent or lacks the kind.
	OnCacheMiss()
	// OnCacheRefresh is called after the snapshot for groupVersion was replaced.
	OnCacheRefresh(groupVersion string)
}

// ResourceDescriptor is the resolved metadata for one resource kind.
type ResourceDescriptor struct {
	GroupVersion string   `json:"groupVersion"`
	Kind         string   `json:"kind"`
	Name         string   `json:"name"`
	Namespaced   bool     `json:"namespaced"`
	SingularName string   `json:"singularName,omitempty"`
	ShortNames   []string `json:"shortNames,omitempty"`
	Verbs        []string `json:"verbs,omitempty"`
}

// resourceCache maps a group-version to an immutable snapshot of descriptors.
// Snapshots are replaced whole and never modified after they are stored, so
// readers need no lock.
type resourceCache struct {
	snapshots sync.Map // group-version -> []ResourceDescriptor

	metrics CacheMetricsCallback
}

func newResourceCache(metrics CacheMetricsCallback) *resourceCache {
	return &resourceCache{metrics: metrics}
}

// get returns the snapshot for groupVersion, if one was stored.
func (c *resourceCache) get(groupVersion string) ([]ResourceDescriptor, bool) {
	v, ok := c.snapshots.Load(groupVersion)
	if !ok {
		return nil, false
	}
	return v.([]ResourceDescriptor), true
}

// lookup searches the cached snapshot for kind and records a hit or miss.
func (c *resourceCache) lookup(groupVersion, kind string) (ResourceDescriptor, bool) {
	snapshot, ok := c.get(groupVersion)
	if ok {
		if d, found := findKind(snapshot, kind); found {
			c.onHit()
			return d, true
		}
	}
	c.onMiss()
	return ResourceDescriptor{}, false
}

// store publishes a new snapshot for groupVersion. The slice must not be
// modified by the caller afterwards.
func (c *resourceCache) store(groupVersion string, snapshot []ResourceDescriptor) {
	c.snapshots.Store(groupVersion, snapshot)
	if c.metrics != nil {
		c.metrics.OnCacheRefresh(groupVersion)
	}
}

func (c *resourceCache) invalidate(groupVersion string) {
	c.snapshots.Delete(groupVersion)
}

func (c *resourceCache) groupVersions() []string {
	var out []string
	c.snapshots.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

func (c *resourceCache) onHit() {
	if c.metrics != nil {
		c.metrics.OnCacheHit()
	}
}

func (c *resourceCache) onMiss() {
	if c.metrics != nil {
		c.metrics.OnCacheMiss()
	}
}

// findKind matches kind exactly first and case-insensitively second.
func findKind(snapshot []ResourceDescriptor, kind string) (ResourceDescriptor, bool) {
	for _, d := range snapshot {
		if d.Kind == kind {
			return d, true
		}
	}
	for _, d := range snapshot {
		if strings.EqualFold(d.Kind, kind) {
			return d, true
		}
	}
	return ResourceDescriptor{}, false
}
