// Package server exposes reconcile runs over HTTP.
//
// Ownership boundary:
// - HTTP routing, auth and request observability
// - serializing apply requests against one console
//
// Server does not scrape or mutate the console itself; it hands each desired
// record to an Applier.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/plcctl/internal/auth"
	"github.com/danmuck/plcctl/internal/observability"
	"github.com/danmuck/plcctl/internal/reconcile"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAddr            = ":9000"
	DefaultShutdownTimeout = 10 * time.Second
)

// Applier reconciles one desired record.
type Applier interface {
	Apply(ctx context.Context, d resource.Desired) (reconcile.Result, error)
}

// Config controls the listener and its middleware.
type Config struct {
	Addr            string
	AllowOrigins    []string
	ShutdownTimeout time.Duration
	// Validator guards /v1 routes; nil leaves them open.
	Validator auth.Validator
}

// Server is the serve-mode HTTP API.
type Server struct {
	cfg       Config
	applier   Applier
	kinds     *resource.Registry
	router    *gin.Engine
	logger    zerolog.Logger
	startedAt time.Time

	// applyMu admits one apply at a time; the console has a single compile
	// log and active program.
	applyMu sync.Mutex
}

// New builds the router. Metrics are registered on the default registry.
func New(cfg Config, applier Applier, kinds *resource.Registry) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	observability.RegisterMetrics()

	s := &Server{
		cfg:       cfg,
		applier:   applier,
		kinds:     kinds,
		logger:    log.Logger.With().Str("component", "server").Logger(),
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("serving")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(s.cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.AllowOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes(r)
	return r
}
