package k8s

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
)

// recordedRequest is a request seen by fakeAPIServer.
type recordedRequest struct {
	Method string
	Path   string // escaped
	Query  url.Values
	Header http.Header
	Body   []byte
}

// fakeAPIServer serves discovery listings for a few group-versions and routes
// every other request to handlers registered per method and escaped path.
type fakeAPIServer struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	requests       []recordedRequest
	discovery      map[string]*metav1.APIResourceList
	discoveryCalls map[string]int
	handlers       map[string]http.HandlerFunc
}

func newFakeAPIServer(t *testing.T) *fakeAPIServer {
	t.Helper()
	f := &fakeAPIServer{
		t:              t,
		discovery:      defaultDiscovery(),
		discoveryCalls: make(map[string]int),
		handlers:       make(map[string]http.HandlerFunc),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)
	return f
}

func defaultDiscovery() map[string]*metav1.APIResourceList {
	return map[string]*metav1.APIResourceList{
		"v1": {
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{Name: "configmaps", SingularName: "configmap", Kind: "ConfigMap", Namespaced: true, ShortNames: []string{"cm"}, Verbs: []string{"get", "list", "watch", "create", "update", "patch", "delete"}},
				{Name: "namespaces", SingularName: "namespace", Kind: "Namespace", Namespaced: false, ShortNames: []string{"ns"}},
				{Name: "pods", SingularName: "pod", Kind: "Pod", Namespaced: true, ShortNames: []string{"po"}},
				{Name: "pods/log", Kind: "Pod", Namespaced: true},
				{Name: "secrets", SingularName: "secret", Kind: "Secret", Namespaced: true},
			},
		},
		"apps/v1": {
			GroupVersion: "apps/v1",
			APIResources: []metav1.APIResource{
				{Name: "deployments", SingularName: "deployment", Kind: "Deployment", Namespaced: true, ShortNames: []string{"deploy"}},
				{Name: "deployments/scale", Kind: "Scale", Group: "autoscaling", Version: "v1", Namespaced: true},
			},
		},
		"example.com/v1": {
			GroupVersion: "example.com/v1",
			APIResources: []metav1.APIResource{
				{Name: "widgets", SingularName: "widget", Kind: "Widget", Namespaced: true},
			},
		},
	}
}

// setDiscovery replaces the listing served for groupVersion.
func (f *fakeAPIServer) setDiscovery(groupVersion string, list *metav1.APIResourceList) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovery[groupVersion] = list
}

// handle registers h for method and escaped path.
func (f *fakeAPIServer) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = h
}

func (f *fakeAPIServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := r.URL.EscapedPath()

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	handler, hasHandler := f.handlers[r.Method+" "+path]
	f.mu.Unlock()

	if hasHandler {
		handler(w, r)
		return
	}

	if r.Method == http.MethodGet && f.serveDiscovery(w, path) {
		return
	}

	writeJSON(w, http.StatusNotFound, statusJSON(http.StatusNotFound, metav1.StatusReasonNotFound, "the server could not find the requested resource"))
}

func (f *fakeAPIServer) serveDiscovery(w http.ResponseWriter, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch path {
	case "/api":
		writeJSON(w, http.StatusOK, mustJSON(f.t, metav1.APIVersions{Versions: []string{"v1"}}))
		return true
	case "/apis":
		groups := metav1.APIGroupList{}
		for gv := range f.discovery {
			group, version, found := strings.Cut(gv, "/")
			if !found {
				continue
			}
			v := metav1.GroupVersionForDiscovery{GroupVersion: gv, Version: version}
			groups.Groups = append(groups.Groups, metav1.APIGroup{
				Name:             group,
				Versions:         []metav1.GroupVersionForDiscovery{v},
				PreferredVersion: v,
			})
		}
		writeJSON(w, http.StatusOK, mustJSON(f.t, groups))
		return true
	}

	gv := strings.TrimPrefix(strings.TrimPrefix(path, "/apis/"), "/api/")
	if gv == path {
		return false
	}
	list, ok := f.discovery[gv]
	if !ok {
		return false
	}
	f.discoveryCalls[gv]++
	writeJSON(w, http.StatusOK, mustJSON(f.t, list))
	return true
}

// objectRequests returns the recorded requests other than discovery.
func (f *fakeAPIServer) objectRequests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedRequest
	for _, r := range f.requests {
		if isDiscoveryPath(r.Path) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// lastRequest returns the most recent non-discovery request.
func (f *fakeAPIServer) lastRequest() recordedRequest {
	f.t.Helper()
	requests := f.objectRequests()
	require.NotEmpty(f.t, requests, "expected at least one object request")
	return requests[len(requests)-1]
}

func (f *fakeAPIServer) discoveryCount(groupVersion string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoveryCalls[groupVersion]
}

func (f *fakeAPIServer) restConfig() *rest.Config {
	return &rest.Config{Host: f.server.URL}
}

func (f *fakeAPIServer) transport() *RESTTransport {
	f.t.Helper()
	transport, err := NewRESTTransport(f.restConfig())
	require.NoError(f.t, err)
	return transport
}

// objectAPI returns an ObjectAPI wired to the fake server with "default" as
// the default namespace.
func (f *fakeAPIServer) objectAPI() *ObjectAPI {
	return NewObjectAPI(f.transport(), Options{Logger: discardLogger()})
}

func isDiscoveryPath(path string) bool {
	if path == "/api" || path == "/apis" {
		return true
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch segments[0] {
	case "api":
		return len(segments) == 2
	case "apis":
		return len(segments) == 3
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// respond returns a handler that writes body with status.
func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, body)
	}
}

func statusJSON(code int, reason metav1.StatusReason, message string) string {
	status := metav1.Status{
		TypeMeta: metav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   metav1.StatusFailure,
		Message:  message,
		Reason:   reason,
		Code:     int32(code),
	}
	out, _ := json.Marshal(status)
	return string(out)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}
