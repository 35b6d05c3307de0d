package mutate

import (
	"context"
	"net/url"

	"github.com/danmuck/plcctl/internal/controller"
)

// Console is the part of a controller session the drivers use.
type Console interface {
	Get(ctx context.Context, path string) (*controller.Response, error)
	Post(ctx context.Context, path string, form url.Values, upload *controller.Upload) (*controller.Response, error)
}

var _ Console = (*controller.Session)(nil)
