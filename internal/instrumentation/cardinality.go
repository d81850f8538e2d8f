package instrumentation

import (
	"strconv"
	"strings"
)

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// # Warning
//
// High cardinality in metrics can cause:
// - Increased memory usage in Prometheus/metrics backends
// - Slower query performance
// - Higher storage costs
//
// A cluster with many CRDs exposes hundreds of API groups, so group-versions
// and kinds are classified before they become metric labels.

// GroupClass represents a classification of API groups for metrics.
type GroupClass string

// API group classifications for metrics cardinality control.
const (
	// GroupClassCore represents the legacy core group served under /api.
	GroupClassCore GroupClass = "core"

	// GroupClassBuiltin represents groups shipped with Kubernetes itself.
	GroupClassBuiltin GroupClass = "builtin"

	// GroupClassCustom represents groups contributed by CRDs or aggregated API servers.
	GroupClassCustom GroupClass = "custom"
)

// builtinGroups lists the API groups without a dot that Kubernetes serves.
var builtinGroups = map[string]struct{}{
	"apps":         {},
	"batch":        {},
	"autoscaling":  {},
	"policy":       {},
	"extensions":   {},
	"certificates": {},
}

// GroupFromGroupVersion returns the group part of a group-version, or "" for
// the core group.
//
//	GroupFromGroupVersion("apps/v1")  // "apps"
//	GroupFromGroupVersion("v1")       // ""
func GroupFromGroupVersion(groupVersion string) string {
	group, _, found := strings.Cut(groupVersion, "/")
	if !found {
		return ""
	}
	return group
}

// ClassifyGroupVersion classifies a group-version into a GroupClass for metrics.
//
// # Classification Rules
//
//	| Group                                  | Classification |
//	|----------------------------------------|----------------|
//	| Empty (core, e.g. "v1")                | core           |
//	| apps, batch, autoscaling, policy, ...  | builtin        |
//	| Suffix: .k8s.io                        | builtin        |
//	| Everything else                        | custom         |
//
// # Examples
//
//	ClassifyGroupVersion("v1")                              // "core"
//	ClassifyGroupVersion("apps/v1")                         // "builtin"
//	ClassifyGroupVersion("networking.k8s.io/v1")            // "builtin"
//	ClassifyGroupVersion("cluster.x-k8s.io/v1beta1")        // "custom"
//	ClassifyGroupVersion("monitoring.coreos.com/v1")        // "custom"
func ClassifyGroupVersion(groupVersion string) string {
	group := strings.ToLower(GroupFromGroupVersion(groupVersion))
	if group == "" {
		return string(GroupClassCore)
	}
	if _, ok := builtinGroups[group]; ok {
		return string(GroupClassBuiltin)
	}
	if strings.HasSuffix(group, ".k8s.io") {
		return string(GroupClassBuiltin)
	}
	return string(GroupClassCustom)
}

// ClassifyStatusCode reduces an HTTP status code to its class ("2xx", "4xx",
// ...). A code of 0, used for requests that never got a response, becomes
// "error".
func ClassifyStatusCode(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
