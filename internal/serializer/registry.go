package serializer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/json"
	"k8s.io/client-go/kubernetes/scheme"
)

// ErrMissingKind is returned when an object carries no apiVersion/kind and no
// registered scheme can name its Go type.
var ErrMissingKind = errors.New("object has no apiVersion/kind")

// Codec is the encode/decode pair registered for one GroupVersionKind.
type Codec struct {
	Encode func(obj runtime.Object) ([]byte, error)
	Decode func(data []byte) (runtime.Object, error)
}

// Registry maps GroupVersionKinds to codecs. It is safe for concurrent use;
// registration normally happens once at start-up and lookups dominate.
type Registry struct {
	mu      sync.RWMutex
	codecs  map[schema.GroupVersionKind]Codec
	schemes []*runtime.Scheme
}

// NewRegistry returns an empty registry. Every kind decodes generically until
// a codec is registered for it.
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[schema.GroupVersionKind]Codec),
	}
}

// NewDefaultRegistry returns a registry populated with every kind known to the
// client-go scheme.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterScheme(scheme.Scheme)
	return r
}

// Register adds or replaces the codec for gvk.
func (r *Registry) Register(gvk schema.GroupVersionKind, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[gvk] = codec
}

// RegisterScheme registers a codec for every external kind of s.
func (r *Registry) RegisterScheme(s *runtime.Scheme) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for gvk := range s.AllKnownTypes() {
		if gvk.Version == runtime.APIVersionInternal {
			continue
		}
		r.codecs[gvk] = schemeCodec(s, gvk)
	}
	r.schemes = append(r.schemes, s)
}

// Known reports whether a codec is registered for gvk.
func (r *Registry) Known(gvk schema.GroupVersionKind) bool {
	_, ok := r.lookup(gvk)
	return ok
}

func (r *Registry) lookup(gvk schema.GroupVersionKind) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codec, ok := r.codecs[gvk]
	return codec, ok
}

// KindFor returns the GroupVersionKind of obj, taken from its type metadata or,
// when that is empty, from the schemes registered with RegisterScheme.
func (r *Registry) KindFor(obj runtime.Object) (schema.GroupVersionKind, error) {
	if gvk := obj.GetObjectKind().GroupVersionKind(); !gvk.Empty() && gvk.Kind != "" {
		return gvk, nil
	}

	r.mu.RLock()
	schemes := r.schemes
	r.mu.RUnlock()

	for _, s := range schemes {
		kinds, _, err := s.ObjectKinds(obj)
		if err == nil && len(kinds) > 0 {
			return kinds[0], nil
		}
	}
	return schema.GroupVersionKind{}, fmt.Errorf("%w: %T", ErrMissingKind, obj)
}

// Encode serializes obj with the codec registered for its kind, or with the
// generic JSON encoding when none is registered. A typed object without type
// metadata is encoded with the kind its scheme reports; obj is not modified.
func (r *Registry) Encode(obj runtime.Object) ([]byte, error) {
	if obj == nil {
		return nil, errors.New("cannot encode nil object")
	}
	gvk := obj.GetObjectKind().GroupVersionKind()
	if gvk.Empty() || gvk.Kind == "" {
		// Typed objects usually carry no TypeMeta; the payload needs
		// apiVersion and kind to decode back into the same shape.
		if schemeGVK, err := r.KindFor(obj); err == nil {
			obj = obj.DeepCopyObject()
			obj.GetObjectKind().SetGroupVersionKind(schemeGVK)
			gvk = schemeGVK
		}
	}
	if codec, ok := r.lookup(gvk); ok && codec.Encode != nil {
		return codec.Encode(obj)
	}
	return encodeGeneric(obj)
}

// Decode deserializes data using the shape named by the payload's own
// apiVersion and kind. Unregistered kinds decode to *unstructured.Unstructured
// or, for list payloads, *unstructured.UnstructuredList.
func (r *Registry) Decode(data []byte) (runtime.Object, error) {
	var typeMeta metav1.TypeMeta
	if err := json.Unmarshal(data, &typeMeta); err != nil {
		return nil, fmt.Errorf("failed to read type metadata: %w", err)
	}
	return r.DecodeInto(data, schema.FromAPIVersionAndKind(typeMeta.APIVersion, typeMeta.Kind))
}

// DecodeInto deserializes data using the declared shape gvk, falling back to
// the generic representation when gvk is not registered.
func (r *Registry) DecodeInto(data []byte, gvk schema.GroupVersionKind) (runtime.Object, error) {
	if codec, ok := r.lookup(gvk); ok && codec.Decode != nil {
		return codec.Decode(data)
	}
	return decodeGeneric(data)
}

func schemeCodec(s *runtime.Scheme, gvk schema.GroupVersionKind) Codec {
	return Codec{
		Encode: func(obj runtime.Object) ([]byte, error) {
			return json.Marshal(obj)
		},
		Decode: func(data []byte) (runtime.Object, error) {
			obj, err := s.New(gvk)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, obj); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", gvk.String(), err)
			}
			obj.GetObjectKind().SetGroupVersionKind(gvk)
			return obj, nil
		},
	}
}

func encodeGeneric(obj runtime.Object) ([]byte, error) {
	switch o := obj.(type) {
	case *unstructured.Unstructured:
		return o.MarshalJSON()
	case *unstructured.UnstructuredList:
		return o.MarshalJSON()
	default:
		return json.Marshal(obj)
	}
}

func decodeGeneric(data []byte) (runtime.Object, error) {
	var content map[string]interface{}
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	if content == nil {
		return nil, errors.New("failed to decode object: payload is null")
	}

	kind, _ := content["kind"].(string)
	rawItems, hasItems := content["items"]
	if !hasItems || !strings.HasSuffix(kind, "List") {
		return &unstructured.Unstructured{Object: content}, nil
	}

	list := &unstructured.UnstructuredList{Object: make(map[string]interface{}, len(content))}
	for key, value := range content {
		if key != "items" {
			list.Object[key] = value
		}
	}

	items, _ := rawItems.([]interface{})
	apiVersion, _ := content["apiVersion"].(string)
	itemKind := strings.TrimSuffix(kind, "List")
	list.Items = make([]unstructured.Unstructured, 0, len(items))
	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("failed to decode %s: item %d is not an object", kind, i)
		}
		u := unstructured.Unstructured{Object: item}
		// Items of built-in lists omit their own type metadata.
		if u.GetKind() == "" && u.GetAPIVersion() == "" {
			u.SetKind(itemKind)
			u.SetAPIVersion(apiVersion)
		}
		list.Items = append(list.Items, u)
	}
	return list, nil
}
