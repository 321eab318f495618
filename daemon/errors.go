package daemon

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

var (
	ErrMissingPathParam = errors.New("missing path parameter")
	ErrInvalidPathParam = errors.New("invalid path parameter")
	ErrUnusedPathParam  = errors.New("unused path parameter")
	ErrBodyTooLarge     = errors.New("response body exceeds limit")
	ErrUnsupportedHost  = errors.New("unsupported daemon host")
)

// Kind is the outcome of classifying a daemon response.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindServerFault
	KindUnexpectedStatus
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindServerFault:
		return "server fault"
	case KindUnexpectedStatus:
		return "unexpected status"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a failure reported by the daemon through its HTTP status.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon: %s (%d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("daemon: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Unwrap maps the error onto the errdefs taxonomy, so errdefs.IsNotFound and friends work.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return errdefs.ErrNotFound
	case KindServerFault:
		return errdefs.ErrInternal
	}
	switch e.StatusCode {
	case http.StatusBadRequest:
		return errdefs.ErrInvalidArgument
	case http.StatusUnauthorized:
		return errdefs.ErrUnauthenticated
	case http.StatusForbidden:
		return errdefs.ErrPermissionDenied
	case http.StatusConflict:
		return errdefs.ErrConflict
	case http.StatusNotImplemented:
		return errdefs.ErrNotImplemented
	case http.StatusServiceUnavailable:
		return errdefs.ErrUnavailable
	}
	return errdefs.ErrUnknown
}

// IsNotFound reports whether err is a daemon 404.
func IsNotFound(err error) bool {
	return isKind(err, KindNotFound)
}

// IsServerFault reports whether err is a daemon 500.
func IsServerFault(err error) bool {
	return isKind(err, KindServerFault)
}

func isKind(err error, k Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == k
}

// TransportError is a failure to complete the HTTP exchange at all: dial, write, timeout
// or a broken connection before a status was received.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a successful response whose payload could not be decoded.
type DecodeError struct {
	Endpoint Endpoint
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response of %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
