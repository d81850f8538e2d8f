package k8s

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/util/flowcontrol"
)

// Request is a single call to the API server. Path is already percent-encoded
// and is appended to the server URL as-is.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the raw outcome of a request that reached the server.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Warnings holds the text of every Warning header the server sent.
	Warnings []string
}

// Transport executes requests against the API server. Implementations return
// a non-nil Response for every status code and an error only when no response
// could be obtained.
type Transport interface {
	// Do sends the request and reads the whole response body.
	Do(ctx context.Context, req *Request) (*Response, error)

	// Stream sends the request and hands back the open body for 2xx responses.
	// For any other status the body is read into Response.Body and the returned
	// reader is nil. The caller must close a non-nil reader.
	Stream(ctx context.Context, req *Request) (*Response, io.ReadCloser, error)
}

// RESTTransport is a Transport on top of the authenticated HTTP client that
// client-go builds from a rest.Config (TLS, bearer tokens, exec plugins,
// impersonation).
type RESTTransport struct {
	client    *http.Client
	base      *url.URL
	userAgent string
	limiter   flowcontrol.RateLimiter
}

// NewRESTTransport creates a RESTTransport for config. QPS and Burst on the
// config are enforced client-side with a token bucket.
func NewRESTTransport(config *rest.Config) (*RESTTransport, error) {
	if config == nil {
		return nil, fmt.Errorf("rest config is required")
	}

	httpClient, err := rest.HTTPClientFor(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	base, _, err := rest.DefaultServerUrlFor(config)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", config.Host, err)
	}

	limiter := config.RateLimiter
	if limiter == nil && config.QPS > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = DefaultBurstLimit
		}
		limiter = flowcontrol.NewTokenBucketRateLimiter(config.QPS, burst)
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = rest.DefaultKubernetesUserAgent()
	}

	return &RESTTransport{
		client:    httpClient,
		base:      base,
		userAgent: userAgent,
		limiter:   limiter,
	}, nil
}

// Do implements Transport.
func (t *RESTTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	httpResp, err := t.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	return newResponse(httpResp, body), nil
}

// Stream implements Transport.
func (t *RESTTransport) Stream(ctx context.Context, req *Request) (*Response, io.ReadCloser, error) {
	httpResp, err := t.send(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if isSuccess(httpResp.StatusCode) {
		return newResponse(httpResp, nil), httpResp.Body, nil
	}

	defer func() { _ = httpResp.Body.Close() }()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	return newResponse(httpResp, body), nil, nil
}

func (t *RESTTransport) send(ctx context.Context, req *Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
		}
	}

	u, err := t.resolveURL(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	return httpResp, nil
}

// resolveURL joins the request path onto the server URL keeping the caller's
// percent-encoding intact.
func (t *RESTTransport) resolveURL(req *Request) (*url.URL, error) {
	u := *t.base

	escaped := strings.TrimSuffix(t.base.EscapedPath(), "/") + req.Path
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", req.Path, err)
	}
	u.Path = unescaped
	u.RawPath = escaped
	u.RawQuery = req.Query.Encode()
	return &u, nil
}

func newResponse(httpResp *http.Response, body []byte) *Response {
	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}
	warnings, _ := utilnet.ParseWarningHeaders(httpResp.Header.Values("Warning"))
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, w.Text)
	}
	return resp
}

func isSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
