package mirror

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrUnavailable = errors.New("mirror: unavailable")
	ErrInvalidName = errors.New("mirror: invalid artifact name")
)

// Mirror fetches and removes stored artifacts by the filename the console
// lists for them.
type Mirror interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
}

// Nop is used when no side channel is configured. Fetch always fails, so
// content comparison is skipped and the full pipeline runs.
type Nop struct{}

func (Nop) Fetch(context.Context, string) ([]byte, error) { return nil, ErrUnavailable }

func (Nop) Remove(context.Context, string) error { return ErrUnavailable }

// RemotePath joins root and a listed filename. Names that would escape root
// are rejected.
func RemotePath(root, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", ErrInvalidName
	}
	if root == "" {
		return name, nil
	}
	return path.Join(root, name), nil
}
