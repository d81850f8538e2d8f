package k8s

import (
	"errors"
	"fmt"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Sentinel errors for the failure classes of the dynamic client.
// These errors can be checked using errors.Is() for programmatic error handling.
var (
	// ErrInvalidSpec indicates that the caller supplied an object header or
	// options that cannot be turned into a request. No request was sent.
	ErrInvalidSpec = errors.New("invalid object specification")

	// ErrUnknownResource indicates that discovery does not list the requested
	// kind for the group-version, even after a fresh fetch.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrAPI indicates that the server answered with a non-2xx status.
	ErrAPI = errors.New("api server returned an error")

	// ErrTransport indicates that the request did not produce an HTTP response,
	// for example a connection, TLS or timeout failure.
	ErrTransport = errors.New("transport failure")

	// ErrStreamDecode indicates that a watch stream delivered a value that could
	// not be decoded into an event.
	ErrStreamDecode = errors.New("failed to decode watch event")
)

// InvalidSpecError describes which field of a request was rejected.
type InvalidSpecError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidSpec, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalidSpec, e.Field, e.Reason)
}

// Unwrap returns ErrInvalidSpec for use with errors.Is().
func (e *InvalidSpecError) Unwrap() error {
	return ErrInvalidSpec
}

func invalidSpec(field, reason string) error {
	return &InvalidSpecError{Field: field, Reason: reason}
}

// UnknownResourceError names the kind that could not be resolved. Kind is empty
// when the group-version itself is not served.
type UnknownResourceError struct {
	GroupVersion string
	Kind         string
}

// Error implements the error interface.
func (e *UnknownResourceError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s: group-version %q is not served", ErrUnknownResource, e.GroupVersion)
	}
	return fmt.Sprintf("%s: kind %q is not served by %q", ErrUnknownResource, e.Kind, e.GroupVersion)
}

// Unwrap returns ErrUnknownResource for use with errors.Is().
func (e *UnknownResourceError) Unwrap() error {
	return ErrUnknownResource
}

// APIError carries the status the server returned for a non-2xx response.
//
// APIError implements apierrors.APIStatus, so the helpers of
// k8s.io/apimachinery/pkg/api/errors work on it directly:
//
//	if apierrors.IsConflict(err) {
//		// re-read and retry
//	}
type APIError struct {
	StatusCode int
	ErrStatus  metav1.Status
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.ErrStatus.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s (%d %s): %s", ErrAPI, e.StatusCode, e.ErrStatus.Reason, msg)
}

// Status implements apierrors.APIStatus.
func (e *APIError) Status() metav1.Status {
	return e.ErrStatus
}

// Reason returns the machine-readable reason of the failure.
func (e *APIError) Reason() metav1.StatusReason {
	return e.ErrStatus.Reason
}

// Is matches ErrAPI.
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// newAPIError builds an APIError from a response. A decoded metav1.Status is
// used as-is; otherwise a status is synthesized from the HTTP code the same way
// client-go does.
func newAPIError(statusCode int, status *metav1.Status, method, path string) *APIError {
	generic := apierrors.NewGenericServerResponse(statusCode, method, schema.GroupResource{}, "", "", 0, false).ErrStatus

	if status != nil && status.Kind == "Status" {
		s := *status
		if s.Code == 0 {
			s.Code = int32(statusCode)
		}
		if s.Reason == "" {
			s.Reason = generic.Reason
		}
		return &APIError{StatusCode: statusCode, ErrStatus: s}
	}

	generic.Message = fmt.Sprintf("%s %s: %s", method, path, http.StatusText(statusCode))
	return &APIError{StatusCode: statusCode, ErrStatus: generic}
}

// TransportError wraps a failure that prevented a response from being read.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrTransport, e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// StreamDecodeError reports a watch frame that could not be decoded.
type StreamDecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStreamDecode, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StreamDecodeError) Unwrap() error {
	return e.Err
}

// Is matches ErrStreamDecode.
func (e *StreamDecodeError) Is(target error) bool {
	return target == ErrStreamDecode
}

// IsConflict reports whether err is an APIError with reason Conflict.
func IsConflict(err error) bool {
	return apierrors.IsConflict(err)
}

// IsNotFound reports whether err is an APIError with reason NotFound.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// IsForbidden reports whether err is an APIError with reason Forbidden.
func IsForbidden(err error) bool {
	return apierrors.IsForbidden(err)
}
