package k8s

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/runtime/serializer/streaming"
	"k8s.io/apimachinery/pkg/util/framer"
	"k8s.io/apimachinery/pkg/util/json"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/giantswarm/dynamic-kubernetes/internal/instrumentation"
	"github.com/giantswarm/dynamic-kubernetes/internal/logging"
	"github.com/giantswarm/dynamic-kubernetes/internal/serializer"
)

// EventHandler receives watch events one at a time, in arrival order. The
// next event is not read from the stream until the handler returns.
type EventHandler func(watch.Event)

// DoneFunc is called exactly once when a watch session ends: with nil after
// Stop or a clean end of stream, or with the error that ended it.
type DoneFunc func(error)

// WatchState is the lifecycle state of a WatchSession.
type WatchState int32

const (
	WatchConnecting WatchState = iota
	WatchStreaming
	WatchClosed
	WatchErrored
)

// String returns the state name.
func (s WatchState) String() string {
	switch s {
	case WatchConnecting:
		return "Connecting"
	case WatchStreaming:
		return "Streaming"
	case WatchClosed:
		return "Closed"
	case WatchErrored:
		return "Errored"
	default:
		return fmt.Sprintf("WatchState(%d)", int32(s))
	}
}

// WatchSession owns one open watch stream.
type WatchSession struct {
	header   ObjectHeader
	path     string
	registry *serializer.Registry
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser

	state           atomic.Int32
	stopped         atomic.Bool
	stopOnce        sync.Once
	resourceVersion atomic.Value // string

	done chan struct{}
	err  error // written before done is closed
}

// Watch opens a watch on the collection of header's kind in header's
// namespace (all namespaces when empty). A header with a name watches only
// that object. Connection failures, including non-2xx responses, are returned
// directly; once Watch returns a session, every later outcome is reported
// through done.
func (a *ObjectAPI) Watch(ctx context.Context, header ObjectHeader, opts WatchOptions, handler EventHandler, done DoneFunc) (*WatchSession, error) {
	if handler == nil {
		return nil, invalidSpec("handler", "must not be nil")
	}
	s := a.newWatchSession(header)
	if err := a.startWatch(ctx, s, opts, handler, done); err != nil {
		return nil, err
	}
	return s, nil
}

// WatchChan is Watch with events delivered on an unbuffered channel. The
// channel is closed when the session ends; Err or Wait report why. A pending
// send is abandoned when the session is stopped.
func (a *ObjectAPI) WatchChan(ctx context.Context, header ObjectHeader, opts WatchOptions) (*WatchSession, <-chan watch.Event, error) {
	events := make(chan watch.Event)
	s := a.newWatchSession(header)
	handler := func(event watch.Event) {
		select {
		case events <- event:
		case <-s.ctx.Done():
		}
	}
	if err := a.startWatch(ctx, s, opts, handler, func(error) { close(events) }); err != nil {
		return nil, nil, err
	}
	return s, events, nil
}

func (a *ObjectAPI) newWatchSession(header ObjectHeader) *WatchSession {
	s := &WatchSession{
		header:   header,
		registry: a.registry,
		logger:   a.logger,
		metrics:  a.metrics,
		done:     make(chan struct{}),
	}
	s.state.Store(int32(WatchConnecting))
	s.resourceVersion.Store("")
	return s
}

// startWatch connects s and starts its read loop.
func (a *ObjectAPI) startWatch(ctx context.Context, s *WatchSession, opts WatchOptions, handler EventHandler, done DoneFunc) (err error) {
	opCtx, finish := a.begin(ctx, instrumentation.OperationWatch, s.header, false)
	var result *Result
	defer func() { finish(result, err) }()

	listHeader := s.header
	if listHeader.Name != "" {
		if opts.FieldSelector != "" {
			return invalidSpec("fieldSelector", "cannot be combined with a watch on a named object")
		}
		opts.FieldSelector = "metadata.name=" + listHeader.Name
		listHeader.Name = ""
	}

	t, err := a.target(opCtx, listHeader, ActionList)
	if err != nil {
		return err
	}
	s.path = t.path

	req := &Request{
		Method: http.MethodGet,
		Path:   t.path,
		Query:  opts.query(),
		Header: buildHeader(opts.Headers, acceptHeaders()),
	}

	// The stream outlives the operation span, so it is bound to the caller's
	// context rather than opCtx.
	s.ctx, s.cancel = context.WithCancel(ctx)

	start := time.Now()
	resp, body, err := a.transport.Stream(s.ctx, req)
	if err != nil {
		s.cancel()
		a.metrics.RecordAPIRequest(ctx, req.Method, 0, time.Since(start))
		if !errors.Is(err, ErrTransport) {
			err = &TransportError{Method: req.Method, Path: req.Path, Err: err}
		}
		return err
	}
	a.metrics.RecordAPIRequest(ctx, req.Method, resp.StatusCode, time.Since(start))
	if body == nil {
		s.cancel()
		return newAPIError(resp.StatusCode, decodeStatus(resp.Body), req.Method, req.Path)
	}
	result = &Result{Response: resp}

	s.body = body
	if opts.ResourceVersion != "" {
		s.resourceVersion.Store(opts.ResourceVersion)
	}
	s.state.Store(int32(WatchStreaming))
	s.metrics.WatchStarted(ctx)

	go s.run(handler, done)
	return nil
}

// Stop ends the session. It is idempotent and safe to call from any
// goroutine, including from the handler. A handler call already in progress
// completes; no further calls are made.
func (s *WatchSession) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		_ = s.body.Close()
	})
}

// Done is closed after the session has ended and the done callback returned.
func (s *WatchSession) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns the error that ended it, or
// nil after Stop or a clean end of stream. It must not be called from the
// done callback.
func (s *WatchSession) Wait() error {
	<-s.done
	return s.err
}

// Err returns the terminal error once the session has ended, and nil before.
func (s *WatchSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// State returns the current lifecycle state.
func (s *WatchSession) State() WatchState {
	return WatchState(s.state.Load())
}

// ResourceVersion returns the last resourceVersion observed on the stream,
// including bookmarks, or the version the watch started from. Pass it to a new
// watch to resume after this one ended.
func (s *WatchSession) ResourceVersion() string {
	return s.resourceVersion.Load().(string)
}

// Path returns the collection path being watched.
func (s *WatchSession) Path() string {
	return s.path
}

func (s *WatchSession) run(handler EventHandler, done DoneFunc) {
	decoder := streaming.NewDecoder(framer.NewJSONFramedReader(s.body), wireEventDecoder{})

	var err error
	for {
		event, nextErr := s.next(decoder)
		if nextErr != nil {
			if !s.cancelled() && !errors.Is(nextErr, io.EOF) {
				err = nextErr
			}
			break
		}
		if s.stopped.Load() {
			break
		}

		s.observe(event)
		handler(event)
	}

	s.finish(err, done)
}

// next reads and decodes one event from the stream.
func (s *WatchSession) next(decoder streaming.Decoder) (watch.Event, error) {
	var wire metav1.WatchEvent
	if _, _, err := decoder.Decode(nil, &wire); err != nil {
		return watch.Event{}, s.classifyReadError(err)
	}

	eventType := watch.EventType(wire.Type)
	switch eventType {
	case watch.Added, watch.Modified, watch.Deleted, watch.Bookmark, watch.Error:
	default:
		return watch.Event{}, &StreamDecodeError{Err: fmt.Errorf("unknown event type %q", wire.Type)}
	}
	if len(wire.Object.Raw) == 0 {
		return watch.Event{}, &StreamDecodeError{Err: fmt.Errorf("%s event has no object", eventType)}
	}

	obj, err := s.registry.Decode(wire.Object.Raw)
	if err != nil {
		return watch.Event{}, &StreamDecodeError{Err: err}
	}
	return watch.Event{Type: eventType, Object: obj}, nil
}

func (s *WatchSession) classifyReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var decodeErr *StreamDecodeError
	if errors.As(err, &decodeErr) {
		return err
	}
	var syntaxErr *stdjson.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &StreamDecodeError{Err: err}
	}
	return &TransportError{Method: http.MethodGet, Path: s.path, Err: err}
}

func (s *WatchSession) observe(event watch.Event) {
	s.metrics.RecordWatchEvent(s.ctx, string(event.Type))
	if event.Type == watch.Error {
		return
	}
	if accessor, err := meta.Accessor(event.Object); err == nil {
		if rv := accessor.GetResourceVersion(); rv != "" {
			s.resourceVersion.Store(rv)
		}
	}
}

// cancelled reports whether the session was stopped or its context ended,
// in which case read errors are the expected result of tearing down the
// stream.
func (s *WatchSession) cancelled() bool {
	return s.stopped.Load() || s.ctx.Err() != nil
}

func (s *WatchSession) finish(err error, done DoneFunc) {
	s.cancel()
	_ = s.body.Close()

	state, reason := WatchClosed, instrumentation.WatchEndClosed
	if err != nil {
		state, reason = WatchErrored, instrumentation.WatchEndErrored
	}
	s.err = err
	s.state.Store(int32(state))
	s.metrics.WatchEnded(context.Background(), reason)

	logArgs := []any{
		logging.Operation(instrumentation.OperationWatch),
		logging.Kind(s.header.Kind),
		logging.Namespace(s.header.Namespace),
		logging.Path(s.path),
		slog.String("state", state.String()),
		slog.String("resource_version", s.ResourceVersion()),
	}
	if err != nil {
		logArgs = append(logArgs, logging.Err(err))
	}
	s.logger.Debug("Watch session ended", logArgs...)

	if done != nil {
		done(err)
	}
	close(s.done)
}

// wireEventDecoder decodes one framed JSON value into a metav1.WatchEvent.
type wireEventDecoder struct{}

func (wireEventDecoder) Decode(data []byte, _ *schema.GroupVersionKind, into runtime.Object) (runtime.Object, *schema.GroupVersionKind, error) {
	event, ok := into.(*metav1.WatchEvent)
	if !ok {
		return nil, nil, fmt.Errorf("cannot decode watch frame into %T", into)
	}
	*event = metav1.WatchEvent{}
	if err := json.Unmarshal(data, event); err != nil {
		return nil, nil, &StreamDecodeError{Err: err}
	}
	return event, nil, nil
}
