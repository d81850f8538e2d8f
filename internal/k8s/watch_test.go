package k8s

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
)

const widgetsPath = "/apis/example.com/v1/namespaces/default/widgets"

var widgetsHeader = ObjectHeader{APIVersion: "example.com/v1", Kind: "Widget", Namespace: "default"}

func widgetAt(name, resourceVersion string) string {
	return fmt.Sprintf(`{"apiVersion":"example.com/v1","kind":"Widget","metadata":{"name":%q,"namespace":"default","resourceVersion":%q},"spec":{"size":1}}`,
		name, resourceVersion)
}

func bookmarkAt(resourceVersion string) string {
	return fmt.Sprintf(`{"apiVersion":"example.com/v1","kind":"Widget","metadata":{"resourceVersion":%q}}`, resourceVersion)
}

func eventLine(eventType watch.EventType, object string) string {
	return fmt.Sprintf(`{"type":%q,"object":%s}`+"\n", eventType, object)
}

// streamHandler writes lines one by one, flushing after each. When hold is
// set it keeps the stream open until the client goes away.
func streamHandler(lines []string, hold bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			_, _ = io.WriteString(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if hold {
			<-r.Context().Done()
		}
	}
}

// doneRecorder counts done callbacks and keeps the last error.
type doneRecorder struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
}

func (d *doneRecorder) done(err error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *doneRecorder) lastErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func waitSession(t *testing.T, s *WatchSession) error {
	t.Helper()
	select {
	case <-s.Done():
		return s.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("watch session did not end")
		return nil
	}
}

func TestWatch_DeliversEventsInOrder(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler([]string{
		eventLine(watch.Added, widgetAt("a", "3")),
		eventLine(watch.Modified, widgetAt("a", "4")),
		eventLine(watch.Bookmark, bookmarkAt("5")),
		eventLine(watch.Deleted, widgetAt("a", "6")),
	}, false))
	api := server.objectAPI()

	var (
		mu     sync.Mutex
		events []watch.Event
	)
	recorder := &doneRecorder{}
	session, err := api.Watch(context.Background(), widgetsHeader,
		WatchOptions{ResourceVersion: "2", AllowWatchBookmarks: true},
		func(event watch.Event) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
		recorder.done)
	require.NoError(t, err)

	require.NoError(t, waitSession(t, session))
	assert.Equal(t, WatchClosed, session.State())
	assert.Equal(t, int32(1), recorder.calls.Load())
	assert.NoError(t, recorder.lastErr())
	assert.Equal(t, "6", session.ResourceVersion())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 4)
	assert.Equal(t, []watch.EventType{watch.Added, watch.Modified, watch.Bookmark, watch.Deleted},
		[]watch.EventType{events[0].Type, events[1].Type, events[2].Type, events[3].Type})

	bookmark, ok := events[2].Object.(*unstructured.Unstructured)
	require.True(t, ok, "got %T", events[2].Object)
	metadata, ok := bookmark.Object["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"resourceVersion": "5"}, metadata)

	req := server.lastRequest()
	assert.Equal(t, widgetsPath, req.Path)
	assert.Equal(t, "true", req.Query.Get("watch"))
	assert.Equal(t, "2", req.Query.Get("resourceVersion"))
	assert.Equal(t, "true", req.Query.Get("allowWatchBookmarks"))
}

func TestWatch_DecodesTypedObjects(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/api/v1/namespaces/default/configmaps", streamHandler([]string{
		eventLine(watch.Added, configMapJSON),
	}, false))
	api := server.objectAPI()

	var got watch.Event
	session, err := api.Watch(context.Background(),
		ObjectHeader{Kind: "ConfigMap", Namespace: "default"}, WatchOptions{},
		func(event watch.Event) { got = event }, nil)
	require.NoError(t, err)
	require.NoError(t, waitSession(t, session))

	cm, ok := got.Object.(*corev1.ConfigMap)
	require.True(t, ok, "got %T", got.Object)
	assert.Equal(t, "settings", cm.Name)
}

func TestWatch_StopDuringDelivery(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler([]string{
		eventLine(watch.Added, widgetAt("a", "3")),
		eventLine(watch.Added, widgetAt("b", "4")),
		eventLine(watch.Added, widgetAt("c", "5")),
	}, true))
	api := server.objectAPI()

	first := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	recorder := &doneRecorder{}

	session, err := api.Watch(context.Background(), widgetsHeader, WatchOptions{},
		func(watch.Event) {
			if calls.Add(1) == 1 {
				close(first)
				<-release
			}
		},
		recorder.done)
	require.NoError(t, err)

	<-first
	session.Stop()
	session.Stop()
	close(release)

	require.NoError(t, waitSession(t, session))
	assert.Equal(t, int32(1), calls.Load(), "no handler call after the in-flight one")
	assert.Equal(t, int32(1), recorder.calls.Load())
	assert.Equal(t, WatchClosed, session.State())
}

func TestWatch_StopIsIdempotentAcrossGoroutines(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler(nil, true))
	api := server.objectAPI()

	recorder := &doneRecorder{}
	session, err := api.Watch(context.Background(), widgetsHeader, WatchOptions{}, func(watch.Event) {}, recorder.done)
	require.NoError(t, err)
	assert.Equal(t, WatchStreaming, session.State())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.Stop()
		}()
	}
	wg.Wait()

	require.NoError(t, waitSession(t, session))
	assert.Equal(t, int32(1), recorder.calls.Load())
	assert.Equal(t, WatchClosed, session.State())
}

func TestWatch_ContextCancellationCloses(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler(nil, true))
	api := server.objectAPI()

	ctx, cancel := context.WithCancel(context.Background())
	recorder := &doneRecorder{}
	session, err := api.Watch(ctx, widgetsHeader, WatchOptions{}, func(watch.Event) {}, recorder.done)
	require.NoError(t, err)

	cancel()
	require.NoError(t, waitSession(t, session))
	assert.Equal(t, int32(1), recorder.calls.Load())
}

func TestWatch_StreamErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{
			name:  "malformed json",
			lines: []string{eventLine(watch.Added, widgetAt("a", "3")), "{not json}\n"},
		},
		{
			name:  "unknown event type",
			lines: []string{eventLine(watch.Added, widgetAt("a", "3")), eventLine("RENAMED", widgetAt("a", "4"))},
		},
		{
			name:  "event without object",
			lines: []string{eventLine(watch.Added, widgetAt("a", "3")), `{"type":"ADDED"}` + "\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeAPIServer(t)
			server.handle(http.MethodGet, widgetsPath, streamHandler(tt.lines, false))
			api := server.objectAPI()

			var calls atomic.Int32
			recorder := &doneRecorder{}
			session, err := api.Watch(context.Background(), widgetsHeader, WatchOptions{},
				func(watch.Event) { calls.Add(1) }, recorder.done)
			require.NoError(t, err)

			err = waitSession(t, session)
			require.ErrorIs(t, err, ErrStreamDecode)
			assert.Equal(t, WatchErrored, session.State())
			assert.Equal(t, int32(1), calls.Load(), "only the valid event is delivered")
			assert.Equal(t, int32(1), recorder.calls.Load())
			assert.ErrorIs(t, recorder.lastErr(), ErrStreamDecode)
			assert.Equal(t, "3", session.ResourceVersion())
		})
	}
}

func TestWatch_ErrorEventIsForwarded(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler([]string{
		eventLine(watch.Error, statusJSON(http.StatusGone, metav1.StatusReasonExpired, "too old resource version")),
	}, false))
	api := server.objectAPI()

	var got []watch.Event
	session, err := api.Watch(context.Background(), widgetsHeader, WatchOptions{ResourceVersion: "1"},
		func(event watch.Event) { got = append(got, event) }, nil)
	require.NoError(t, err)
	require.NoError(t, waitSession(t, session))

	require.Len(t, got, 1)
	assert.Equal(t, watch.Error, got[0].Type)
	assert.Equal(t, "1", session.ResourceVersion(), "error events do not move the resume point")
}

func TestWatch_ConnectErrors(t *testing.T) {
	t.Run("non-2xx is returned synchronously", func(t *testing.T) {
		server := newFakeAPIServer(t)
		server.handle(http.MethodGet, widgetsPath,
			respond(http.StatusForbidden, statusJSON(http.StatusForbidden, metav1.StatusReasonForbidden, "denied")))
		api := server.objectAPI()

		recorder := &doneRecorder{}
		session, err := api.Watch(context.Background(), widgetsHeader, WatchOptions{}, func(watch.Event) {}, recorder.done)
		require.Error(t, err)
		assert.Nil(t, session)
		assert.True(t, IsForbidden(err))
		assert.Equal(t, int32(0), recorder.calls.Load())
	})

	t.Run("unknown kind", func(t *testing.T) {
		server := newFakeAPIServer(t)
		api := server.objectAPI()

		_, err := api.Watch(context.Background(), ObjectHeader{APIVersion: "example.com/v1", Kind: "Gadget"},
			WatchOptions{}, func(watch.Event) {}, nil)
		require.ErrorIs(t, err, ErrUnknownResource)
		assert.Empty(t, server.objectRequests())
	})

	t.Run("nil handler", func(t *testing.T) {
		server := newFakeAPIServer(t)
		_, err := server.objectAPI().Watch(context.Background(), widgetsHeader, WatchOptions{}, nil, nil)
		require.ErrorIs(t, err, ErrInvalidSpec)
	})
}

func TestWatch_NamedObjectUsesFieldSelector(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler(nil, false))
	api := server.objectAPI()

	header := widgetsHeader
	header.Name = "a"
	session, err := api.Watch(context.Background(), header, WatchOptions{}, func(watch.Event) {}, nil)
	require.NoError(t, err)
	require.NoError(t, waitSession(t, session))

	req := server.lastRequest()
	assert.Equal(t, widgetsPath, req.Path)
	assert.Equal(t, "metadata.name=a", req.Query.Get("fieldSelector"))
}

func TestWatchChan(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler([]string{
		eventLine(watch.Added, widgetAt("a", "3")),
		eventLine(watch.Deleted, widgetAt("a", "4")),
	}, false))
	api := server.objectAPI()

	session, events, err := api.WatchChan(context.Background(), widgetsHeader, WatchOptions{})
	require.NoError(t, err)

	var types []watch.EventType
	for event := range events {
		types = append(types, event.Type)
	}
	assert.Equal(t, []watch.EventType{watch.Added, watch.Deleted}, types)
	assert.NoError(t, session.Wait())
	assert.Equal(t, "4", session.ResourceVersion())
}

func TestWatchChan_StopUnblocksPendingSend(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, widgetsPath, streamHandler([]string{
		eventLine(watch.Added, widgetAt("a", "3")),
		eventLine(watch.Added, widgetAt("b", "4")),
		eventLine(watch.Added, widgetAt("c", "5")),
	}, true))
	api := server.objectAPI()

	session, events, err := api.WatchChan(context.Background(), widgetsHeader, WatchOptions{})
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, watch.Added, first.Type)
	session.Stop()

	closed := make(chan struct{})
	go func() {
		for range events {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("event channel was not closed after Stop")
	}
	assert.NoError(t, session.Wait())
}

func TestWatchState_String(t *testing.T) {
	assert.Equal(t, "Connecting", WatchConnecting.String())
	assert.Equal(t, "Streaming", WatchStreaming.String())
	assert.Equal(t, "Closed", WatchClosed.String())
	assert.Equal(t, "Errored", WatchErrored.String())
	assert.Equal(t, "WatchState(9)", WatchState(9).String())
}
