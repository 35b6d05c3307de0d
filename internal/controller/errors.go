package controller

import (
	"errors"
	"fmt"
)

var (
	ErrTransport = errors.New("controller: transport failure")
	ErrRemote    = errors.New("controller: remote error")
)

// TransportError is a request that failed on the wire or returned a non-200
// status. Status is 0 when no response was received.
type TransportError struct {
	Method string
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("controller: %s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("controller: %s %s: status %d, want 200; %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a 200 response whose body tail carries a backend error.
type RemoteError struct {
	Path string
	Tail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("controller: %s: backend error in response: %s", e.Path, e.Tail)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }
