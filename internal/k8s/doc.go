// Package k8s is a dynamic client for the Kubernetes API. It reads, writes and
// watches objects of any kind, including custom resources, without generated
// clients.
//
// A request flows through four steps:
//
//   - Resolver maps (apiVersion, kind) to a ResourceDescriptor using the
//     discovery listing of the group-version. Listings are cached per
//     group-version and refetched once when a kind is missing, so CRDs
//     installed after the first lookup are found.
//   - BuildPath turns an ObjectHeader, an Action and the descriptor into the
//     lower-cased request path, defaulting the API version and namespace.
//   - The serializer.Registry encodes request bodies and decodes responses by
//     the response's own apiVersion and kind, falling back to unstructured
//     objects for kinds without a registered Go type.
//   - A Transport sends the request. RESTTransport uses the authenticated
//     HTTP client client-go builds from a rest.Config.
//
// ObjectAPI exposes Create, Read, Replace, Patch, Apply, Delete, List and
// Watch. Failures are reported as *InvalidSpecError or *UnknownResourceError
// before any request for the object is sent, *APIError for non-2xx responses
// and *TransportError when no response was received. The client never retries.
//
// Example usage:
//
//	client, err := k8s.NewClient(&k8s.ClientConfig{Context: "staging"})
//	if err != nil {
//		return err
//	}
//
//	result, err := client.Read(ctx, k8s.ObjectHeader{
//		APIVersion: "apps/v1",
//		Kind:       "Deployment",
//		Name:       "web",
//	}, k8s.ReadOptions{})
//	if k8s.IsNotFound(err) {
//		// ...
//	}
//
//	session, err := client.Watch(ctx, k8s.ObjectHeader{Kind: "ConfigMap"},
//		k8s.WatchOptions{AllowWatchBookmarks: true},
//		func(event watch.Event) { fmt.Println(event.Type) },
//		func(err error) { log.Println("watch ended:", err) })
//	if err != nil {
//		return err
//	}
//	defer session.Stop()
package k8s
