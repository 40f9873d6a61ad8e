package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnreachable matches every NetworkError.
var ErrUnreachable = errors.New("order service unreachable")

// Failure is a non-2xx (or success=false) answer from the order service.
type Failure struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", f.Method, f.Path, f.StatusCode, f.Message)
}

func (f *Failure) Unauthorized() bool { return f.StatusCode == http.StatusUnauthorized }

// Conflict reports a 404/409, which on a claim means another agent won.
func (f *Failure) Conflict() bool {
	return f.StatusCode == http.StatusNotFound || f.StatusCode == http.StatusConflict
}

// NetworkError is a request that never produced an HTTP response.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrUnreachable }

// AsFailure extracts the service failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
