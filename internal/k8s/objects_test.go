package k8s

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
)

const (
	configMapJSON = `{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"settings","namespace":"default","resourceVersion":"7"},"data":{"mode":"fast"}}`
	widgetJSON    = `{"apiVersion":"example.com/v1","kind":"Widget","metadata":{"name":"w1","namespace":"default","resourceVersion":"3"},"spec":{"size":2}}`
)

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(i int64) *int64 { return &i }

func newWidget(namespace, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "example.com/v1",
		"kind":       "Widget",
		"metadata":   map[string]interface{}{"name": name},
		"spec":       map[string]interface{}{"size": int64(2)},
	}}
	if namespace != "" {
		u.SetNamespace(namespace)
	}
	return u
}

func TestObjectAPI_Read(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/api/v1/namespaces/default/configmaps/settings", respond(http.StatusOK, configMapJSON))
	api := server.objectAPI()

	result, err := api.Read(context.Background(),
		ObjectHeader{APIVersion: "v1", Kind: "ConfigMap", Name: "settings"},
		ReadOptions{Pretty: true})
	require.NoError(t, err)

	cm, ok := result.Object.(*corev1.ConfigMap)
	require.True(t, ok, "expected a typed ConfigMap, got %T", result.Object)
	assert.Equal(t, "fast", cm.Data["mode"])
	assert.Equal(t, "7", cm.ResourceVersion)
	assert.Equal(t, http.StatusOK, result.Response.StatusCode)

	req := server.lastRequest()
	assert.Equal(t, "true", req.Query.Get("pretty"))
	assert.Equal(t, ContentTypeJSON, req.Header.Get("Accept"))
}

func TestObjectAPI_ReadDecodesByResponseKind(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/apis/example.com/v1/namespaces/default/widgets/w1", respond(http.StatusOK, widgetJSON))
	api := server.objectAPI()

	result, err := api.Read(context.Background(),
		ObjectHeader{APIVersion: "example.com/v1", Kind: "Widget", Name: "w1"}, ReadOptions{})
	require.NoError(t, err)

	u, ok := result.Object.(*unstructured.Unstructured)
	require.True(t, ok, "unregistered kinds decode to unstructured, got %T", result.Object)
	size, found, err := unstructured.NestedInt64(u.Object, "spec", "size")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), size)
}

func TestObjectAPI_PathKeepsPercentEncoding(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/api/v1/namespaces/default/configmaps/x%2fy", respond(http.StatusOK, configMapJSON))
	api := server.objectAPI()

	_, err := api.Read(context.Background(), ObjectHeader{Kind: "ConfigMap", Name: "x/y"}, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/namespaces/default/configmaps/x%2fy", server.lastRequest().Path)
}

func TestObjectAPI_Create(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodPost, "/apis/example.com/v1/namespaces/default/widgets", respond(http.StatusCreated, widgetJSON))
	api := server.objectAPI()

	widget := newWidget("", "w1")
	result, err := api.Create(context.Background(), widget, CreateOptions{
		DryRun:       true,
		FieldManager: "tests",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.Response.StatusCode)
	assert.Empty(t, widget.GetNamespace(), "the caller's object must not be modified")

	req := server.lastRequest()
	assert.Equal(t, "All", req.Query.Get("dryRun"))
	assert.Equal(t, "tests", req.Query.Get("fieldManager"))
	assert.Equal(t, ContentTypeJSON, req.Header.Get("Content-Type"))

	sent := &unstructured.Unstructured{}
	require.NoError(t, sent.UnmarshalJSON(req.Body))
	assert.Equal(t, "default", sent.GetNamespace())
	assert.Equal(t, "Widget", sent.GetKind())
}

func TestObjectAPI_CreateTypedObjectWithoutTypeMeta(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodPost, "/api/v1/namespaces/team/configmaps", respond(http.StatusCreated, configMapJSON))
	api := server.objectAPI()

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "settings", Namespace: "team"},
		Data:       map[string]string{"mode": "fast"},
	}
	_, err := api.Create(context.Background(), cm, CreateOptions{})
	require.NoError(t, err)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(server.lastRequest().Body, &sent))
	assert.Equal(t, "v1", sent["apiVersion"])
	assert.Equal(t, "ConfigMap", sent["kind"])
	assert.NotContains(t, sent, "binaryData", "absent optional fields are omitted")
}

func TestObjectAPI_Replace(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodPut, "/apis/example.com/v1/namespaces/prod/widgets/w1", respond(http.StatusOK, widgetJSON))
	api := server.objectAPI()

	_, err := api.Replace(context.Background(), newWidget("prod", "w1"), ReplaceOptions{FieldValidation: "Strict"})
	require.NoError(t, err)

	req := server.lastRequest()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "Strict", req.Query.Get("fieldValidation"))
}

func TestObjectAPI_ReplaceRequiresName(t *testing.T) {
	server := newFakeAPIServer(t)
	api := server.objectAPI()

	_, err := api.Replace(context.Background(), newWidget("prod", ""), ReplaceOptions{})
	require.ErrorIs(t, err, ErrInvalidSpec)
	assert.Empty(t, server.objectRequests())
	assert.Equal(t, 0, server.discoveryCount("example.com/v1"))
}

func TestObjectAPI_Patch(t *testing.T) {
	tests := []struct {
		name        string
		opts        PatchOptions
		contentType string
		force       string
	}{
		{
			name:        "strategic merge by default",
			opts:        PatchOptions{},
			contentType: "application/strategic-merge-patch+json",
		},
		{
			name:        "merge patch",
			opts:        PatchOptions{PatchType: types.MergePatchType},
			contentType: "application/merge-patch+json",
		},
		{
			name: "caller content type wins over patch type",
			opts: PatchOptions{
				PatchType: types.MergePatchType,
				Headers:   map[string]string{"Content-Type": "application/json-patch+json"},
			},
			contentType: "application/json-patch+json",
		},
		{
			name:        "apply patch with force",
			opts:        PatchOptions{PatchType: types.ApplyYAMLPatchType, FieldManager: "tests", Force: boolPtr(true)},
			contentType: "application/apply-patch+yaml",
			force:       "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeAPIServer(t)
			server.handle(http.MethodPatch, "/apis/apps/v1/namespaces/default/deployments/web",
				respond(http.StatusOK, `{"apiVersion":"apps/v1","kind":"Deployment","metadata":{"name":"web","namespace":"default"}}`))
			api := server.objectAPI()

			patch := []byte(`{"spec":{"replicas":3}}`)
			_, err := api.Patch(context.Background(),
				ObjectHeader{APIVersion: "apps/v1", Kind: "Deployment", Name: "web"}, patch, tt.opts)
			require.NoError(t, err)

			req := server.lastRequest()
			assert.Equal(t, tt.contentType, req.Header.Get("Content-Type"))
			assert.Equal(t, ContentTypeJSON, req.Header.Get("Accept"))
			assert.Equal(t, tt.force, req.Query.Get("force"))
			assert.Equal(t, patch, req.Body, "patch bytes are sent unchanged")
		})
	}
}

func TestObjectAPI_PatchRejectedBeforeRequest(t *testing.T) {
	tests := []struct {
		name  string
		patch []byte
		opts  PatchOptions
		field string
	}{
		{
			name:  "force with merge patch",
			patch: []byte(`{}`),
			opts:  PatchOptions{PatchType: types.MergePatchType, Force: boolPtr(true)},
			field: "force",
		},
		{
			name:  "force with default strategic merge patch",
			patch: []byte(`{}`),
			opts:  PatchOptions{Force: boolPtr(false)},
			field: "force",
		},
		{
			name:  "unknown media type",
			patch: []byte(`{}`),
			opts:  PatchOptions{Headers: map[string]string{"content-type": "text/plain"}},
			field: "patchType",
		},
		{
			name:  "empty patch",
			patch: nil,
			opts:  PatchOptions{},
			field: "patch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeAPIServer(t)
			api := server.objectAPI()

			_, err := api.Patch(context.Background(),
				ObjectHeader{APIVersion: "apps/v1", Kind: "Deployment", Name: "web"}, tt.patch, tt.opts)
			require.ErrorIs(t, err, ErrInvalidSpec)

			var specErr *InvalidSpecError
			require.ErrorAs(t, err, &specErr)
			assert.Equal(t, tt.field, specErr.Field)
			assert.Empty(t, server.objectRequests())
		})
	}
}

func TestNegotiatePatchType(t *testing.T) {
	pt, err := NegotiatePatchType(PatchOptions{
		Headers: map[string]string{"Content-Type": "application/merge-patch+json; charset=utf-8"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MergePatchType, pt)

	pt, err = NegotiatePatchType(PatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategicMergePatchType, pt)
}

func TestObjectAPI_Apply(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodPatch, "/apis/example.com/v1/namespaces/default/widgets/w1", respond(http.StatusOK, widgetJSON))
	api := server.objectAPI()

	_, err := api.Apply(context.Background(), newWidget("", "w1"), ApplyOptions{FieldManager: "tests", Force: true})
	require.NoError(t, err)

	req := server.lastRequest()
	assert.Equal(t, ContentTypeApplyPatch, req.Header.Get("Content-Type"))
	assert.Equal(t, "tests", req.Query.Get("fieldManager"))
	assert.Equal(t, "true", req.Query.Get("force"))

	sent := &unstructured.Unstructured{}
	require.NoError(t, sent.UnmarshalJSON(req.Body))
	assert.Equal(t, "w1", sent.GetName())
	assert.Equal(t, "default", sent.GetNamespace())
}

func TestObjectAPI_ApplyRequiresFieldManager(t *testing.T) {
	server := newFakeAPIServer(t)
	api := server.objectAPI()

	_, err := api.Apply(context.Background(), newWidget("", "w1"), ApplyOptions{})
	require.ErrorIs(t, err, ErrInvalidSpec)
	assert.Empty(t, server.objectRequests())
}

func TestObjectAPI_Delete(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodDelete, "/apis/apps/v1/namespaces/prod/deployments/web",
		respond(http.StatusOK, `{"apiVersion":"v1","kind":"Status","status":"Success"}`))
	api := server.objectAPI()

	foreground := metav1.DeletePropagationForeground
	result, err := api.Delete(context.Background(),
		ObjectHeader{APIVersion: "apps/v1", Kind: "Deployment", Namespace: "prod", Name: "web"},
		DeleteOptions{
			GracePeriodSeconds: int64Ptr(0),
			PropagationPolicy:  &foreground,
		})
	require.NoError(t, err)
	require.NotNil(t, result.Object)

	req := server.lastRequest()
	assert.Equal(t, "0", req.Query.Get("gracePeriodSeconds"))
	assert.Equal(t, "Foreground", req.Query.Get("propagationPolicy"))
	assert.Empty(t, req.Body)
}

func TestObjectAPI_DeleteWithPreconditions(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodDelete, "/api/v1/namespaces/default/configmaps/settings", respond(http.StatusOK, configMapJSON))
	api := server.objectAPI()

	uid := types.UID("1234")
	_, err := api.Delete(context.Background(),
		ObjectHeader{Kind: "ConfigMap", Name: "settings"},
		DeleteOptions{Preconditions: &metav1.Preconditions{UID: &uid}, OrphanDependents: boolPtr(false)})
	require.NoError(t, err)

	req := server.lastRequest()
	assert.Equal(t, "false", req.Query.Get("orphanDependents"))
	assert.Equal(t, ContentTypeJSON, req.Header.Get("Content-Type"))

	var sent metav1.DeleteOptions
	require.NoError(t, json.Unmarshal(req.Body, &sent))
	assert.Equal(t, "DeleteOptions", sent.Kind)
	require.NotNil(t, sent.Preconditions)
	assert.Equal(t, uid, *sent.Preconditions.UID)
}

func TestObjectAPI_List(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/apis/example.com/v1/widgets", respond(http.StatusOK,
		`{"apiVersion":"example.com/v1","kind":"WidgetList","metadata":{"resourceVersion":"10","continue":"page-2"},"items":[`+widgetJSON+`]}`))
	api := server.objectAPI()

	result, err := api.List(context.Background(), "example.com/v1", "Widget", "", ListOptions{
		LabelSelector: "app=web",
		FieldSelector: "metadata.name!=x",
		Limit:         1,
		Continue:      "page-1",
	})
	require.NoError(t, err)

	list, ok := result.Object.(*unstructured.UnstructuredList)
	require.True(t, ok, "got %T", result.Object)
	assert.Equal(t, "page-2", list.GetContinue())
	require.Len(t, list.Items, 1)
	assert.Equal(t, "w1", list.Items[0].GetName())

	req := server.lastRequest()
	assert.Equal(t, "app=web", req.Query.Get("labelSelector"))
	assert.Equal(t, "metadata.name!=x", req.Query.Get("fieldSelector"))
	assert.Equal(t, "1", req.Query.Get("limit"))
	assert.Equal(t, "page-1", req.Query.Get("continue"))
}

func TestObjectAPI_ListTyped(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/api/v1/namespaces/team/configmaps", respond(http.StatusOK,
		`{"apiVersion":"v1","kind":"ConfigMapList","metadata":{"resourceVersion":"11"},"items":[`+configMapJSON+`]}`))
	api := server.objectAPI()

	result, err := api.List(context.Background(), "v1", "ConfigMap", "team", ListOptions{})
	require.NoError(t, err)

	list, ok := result.Object.(*corev1.ConfigMapList)
	require.True(t, ok, "got %T", result.Object)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "settings", list.Items[0].Name)
}

func TestObjectAPI_APIErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		reason     metav1.StatusReason
		check      func(error) bool
		hasMessage string
	}{
		{
			name:       "conflict with status body",
			status:     http.StatusConflict,
			body:       statusJSON(http.StatusConflict, metav1.StatusReasonConflict, "the object has been modified"),
			reason:     metav1.StatusReasonConflict,
			check:      IsConflict,
			hasMessage: "the object has been modified",
		},
		{
			name:   "forbidden with status body",
			status: http.StatusForbidden,
			body:   statusJSON(http.StatusForbidden, metav1.StatusReasonForbidden, "denied"),
			reason: metav1.StatusReasonForbidden,
			check:  IsForbidden,
		},
		{
			name:   "server error without status body",
			status: http.StatusInternalServerError,
			body:   `oops`,
			reason: metav1.StatusReasonInternalError,
			check:  apierrors.IsInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeAPIServer(t)
			server.handle(http.MethodPut, "/api/v1/namespaces/default/configmaps/settings", respond(tt.status, tt.body))
			api := server.objectAPI()

			cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "settings"}}
			_, err := api.Replace(context.Background(), cm, ReplaceOptions{})
			require.ErrorIs(t, err, ErrAPI)
			assert.NotErrorIs(t, err, ErrTransport)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.reason, apiErr.Reason())
			assert.True(t, tt.check(err))
			if tt.hasMessage != "" {
				assert.Equal(t, tt.hasMessage, apiErr.Status().Message)
			}
		})
	}
}

func TestObjectAPI_NotFound(t *testing.T) {
	server := newFakeAPIServer(t)
	api := server.objectAPI()

	_, err := api.Read(context.Background(), ObjectHeader{Kind: "Secret", Name: "missing"}, ReadOptions{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestObjectAPI_UnknownResourceFailsFast(t *testing.T) {
	server := newFakeAPIServer(t)
	api := server.objectAPI()

	_, err := api.Read(context.Background(), ObjectHeader{APIVersion: "v1", Kind: "Gizmo", Name: "g"}, ReadOptions{})
	require.ErrorIs(t, err, ErrUnknownResource)
	assert.Empty(t, server.objectRequests(), "no request is sent for an unknown kind")
}

func TestObjectAPI_TransportError(t *testing.T) {
	server := newFakeAPIServer(t)
	api := server.objectAPI()
	ctx := context.Background()

	_, err := api.Resolver().Resolve(ctx, "v1", "ConfigMap")
	require.NoError(t, err)
	server.server.Close()

	_, err = api.Read(ctx, ObjectHeader{Kind: "ConfigMap", Name: "settings"}, ReadOptions{})
	require.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrAPI)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.MethodGet, transportErr.Method)
}

func TestObjectAPI_WarningsAndHeaders(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/api/v1/namespaces/default/configmaps/settings", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Warning", `299 - "v1 ConfigMap is fine, really"`)
		writeJSON(w, http.StatusOK, configMapJSON)
	})
	api := server.objectAPI()

	result, err := api.Read(context.Background(),
		ObjectHeader{Kind: "ConfigMap", Name: "settings"},
		ReadOptions{Headers: map[string]string{"Accept": "application/json;as=Table", "X-Trace": "abc"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1 ConfigMap is fine, really"}, result.Response.Warnings)

	req := server.lastRequest()
	assert.Equal(t, "application/json;as=Table", req.Header.Get("Accept"))
	assert.Equal(t, "abc", req.Header.Get("X-Trace"))
}

func TestObjectAPI_DefaultNamespace(t *testing.T) {
	server := newFakeAPIServer(t)
	server.handle(http.MethodGet, "/api/v1/namespaces/team-a/configmaps/settings", respond(http.StatusOK, configMapJSON))
	api := NewObjectAPI(server.transport(), Options{DefaultNamespace: "team-a", Logger: discardLogger()})

	_, err := api.Read(context.Background(), ObjectHeader{Kind: "ConfigMap", Name: "settings"}, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "team-a", api.DefaultNamespace())
}
