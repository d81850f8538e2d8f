// Package serializer converts between wire JSON and in-memory Kubernetes
// objects.
//
// A Registry maps a GroupVersionKind to a Codec, an encode/decode function
// pair. The registry is normally populated once at process start from a
// runtime.Scheme (for example the client-go scheme, which knows every type in
// k8s.io/api), but custom pairs can be registered for any kind.
//
// Decoding always selects the shape from the payload's own apiVersion and
// kind, so objects defaulted or converted by the server come back in the shape
// the server actually returned. Payloads whose kind is not registered fall
// back to the generic representation:
//
//	obj, err := registry.Decode(body)
//	switch o := obj.(type) {
//	case *appsv1.Deployment:
//		// registered shape
//	case *unstructured.Unstructured:
//		// unregistered kind, e.g. a custom resource
//	case *unstructured.UnstructuredList:
//		// unregistered list kind
//	}
package serializer
