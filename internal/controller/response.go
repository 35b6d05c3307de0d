package controller

import (
	"net/http"
	"strings"
)

const (
	// ErrorTailLen is how many trailing characters of a body are inspected for
	// backend error markers.
	ErrorTailLen = 300

	errorMarker    = "error"
	databaseMarker = "database"
)

// Response is a validated console reply.
type Response struct {
	Path   string
	Status int
	Body   string
}

// check classifies one reply. A body whose tail mentions both an error and the
// database is a backend failure rendered into a normal page.
func check(method, path string, status int, body string) (*Response, error) {
	if status != http.StatusOK {
		return nil, &TransportError{Method: method, Path: path, Status: status, Body: body}
	}
	t := strings.ToLower(tail(body, ErrorTailLen))
	if strings.Contains(t, errorMarker) && strings.Contains(t, databaseMarker) {
		return nil, &RemoteError{Path: path, Tail: tail(body, ErrorTailLen)}
	}
	return &Response{Path: path, Status: status, Body: body}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
