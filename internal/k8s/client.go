package k8s

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
)

// ObjectClient defines the Object API operations.
// It is implemented by *ObjectAPI and *Client.
type ObjectClient interface {
	// ObjectReader handles read-only operations
	ObjectReader

	// ObjectWriter handles mutating operations
	ObjectWriter

	// ObjectWatcher handles event streams
	ObjectWatcher
}

// ObjectReader retrieves objects.
type ObjectReader interface {
	// Read retrieves the object named by header.
	Read(ctx context.Context, header ObjectHeader, opts ReadOptions) (*Result, error)

	// List retrieves one page of a collection.
	List(ctx context.Context, apiVersion, kind, namespace string, opts ListOptions) (*Result, error)
}

// ObjectWriter creates, modifies and removes objects.
type ObjectWriter interface {
	// Create sends a new object.
	Create(ctx context.Context, obj runtime.Object, opts CreateOptions) (*Result, error)

	// Replace overwrites an existing object.
	Replace(ctx context.Context, obj runtime.Object, opts ReplaceOptions) (*Result, error)

	// Patch modifies an existing object with a JSON, merge, strategic merge or apply patch.
	Patch(ctx context.Context, header ObjectHeader, patch []byte, opts PatchOptions) (*Result, error)

	// Apply creates or updates an object with server-side apply.
	Apply(ctx context.Context, obj runtime.Object, opts ApplyOptions) (*Result, error)

	// Delete removes an object.
	Delete(ctx context.Context, header ObjectHeader, opts DeleteOptions) (*Result, error)
}

// ObjectWatcher opens watch sessions.
type ObjectWatcher interface {
	// Watch delivers events to handler until the session ends.
	Watch(ctx context.Context, header ObjectHeader, opts WatchOptions, handler EventHandler, done DoneFunc) (*WatchSession, error)

	// WatchChan delivers events on a channel until the session ends.
	WatchChan(ctx context.Context, header ObjectHeader, opts WatchOptions) (*WatchSession, <-chan watch.Event, error)
}

var (
	_ ObjectClient = (*ObjectAPI)(nil)
	_ ObjectClient = (*Client)(nil)
)
