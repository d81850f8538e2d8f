package k8s

import (
	"net/url"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Action is the kind of request a path is built for.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionReplace Action = "replace"
	ActionPatch   Action = "patch"
	ActionDelete  Action = "delete"
	ActionList    Action = "list"
)

// targetsSingleObject reports whether the action addresses one named object.
func (a Action) targetsSingleObject() bool {
	switch a {
	case ActionRead, ActionReplace, ActionPatch, ActionDelete:
		return true
	default:
		return false
	}
}

// ObjectHeader identifies an object or, without a name, a collection.
type ObjectHeader struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name,omitempty"`
}

// GroupVersionKind returns the parsed apiVersion and kind of the header.
func (h ObjectHeader) GroupVersionKind() schema.GroupVersionKind {
	return schema.FromAPIVersionAndKind(h.apiVersion(), h.Kind)
}

func (h ObjectHeader) apiVersion() string {
	if h.APIVersion == "" {
		return DefaultAPIVersion
	}
	return h.APIVersion
}

// validate checks the fields the action needs before anything is resolved.
func (h ObjectHeader) validate(action Action) error {
	if h.Kind == "" {
		return invalidSpec("kind", "must not be empty")
	}
	if action.targetsSingleObject() && h.Name == "" {
		return invalidSpec("metadata.name", "is required to "+string(action)+" a "+h.Kind)
	}
	return nil
}

// normalize fills in the defaults BuildPath applies: the core API version and,
// for namespaced kinds outside of list, the default namespace.
func (h ObjectHeader) normalize(action Action, d ResourceDescriptor, defaultNamespace string) ObjectHeader {
	h.APIVersion = h.apiVersion()
	if !d.Namespaced {
		h.Namespace = ""
		return h
	}
	if action != ActionList && h.Namespace == "" {
		h.Namespace = defaultNamespace
	}
	return h
}

// BuildPath returns the request path for action on the object named by header.
//
//	/api/v1/namespaces/default/configmaps/settings
//	/apis/apps/v1/deployments
//
// Namespace and name are percent-encoded and the whole path is lower-cased.
func BuildPath(header ObjectHeader, action Action, d ResourceDescriptor, defaultNamespace string) (string, error) {
	if err := header.validate(action); err != nil {
		return "", err
	}
	h := header.normalize(action, d, defaultNamespace)

	root := "api"
	if strings.Contains(h.APIVersion, "/") {
		root = "apis"
	}

	segments := []string{"", root, h.APIVersion}
	if d.Namespaced && h.Namespace != "" {
		segments = append(segments, "namespaces", url.PathEscape(h.Namespace))
	}
	segments = append(segments, d.Name)
	if action.targetsSingleObject() {
		segments = append(segments, url.PathEscape(h.Name))
	}

	return strings.ToLower(strings.Join(segments, "/")), nil
}
