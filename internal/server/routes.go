package server

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/danmuck/plcctl/internal/auth"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// kindView is the JSON shape of a registered kind.
type kindView struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	States      []string `json:"states"`
	Singleton   bool     `json:"singleton"`
	Artifact    bool     `json:"artifact"`
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": "plcctl",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(s.requireToken())
	v1.GET("/kinds", s.listKinds)
	v1.POST("/apply", s.apply)
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Validator == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || s.cfg.Validator.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) listKinds(c *gin.Context) {
	out := []kindView{}
	for _, k := range s.kinds.List() {
		states := make([]string, 0, len(k.ValidStates))
		for _, st := range k.ValidStates {
			states = append(states, string(st))
		}
		out = append(out, kindView{
			ID:          k.ID,
			Description: k.Description,
			States:      states,
			Singleton:   k.Singleton,
			Artifact:    k.Artifact != nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"kinds": out})
}

func (s *Server) apply(c *gin.Context) {
	var d resource.Desired
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.applyMu.Lock()
	res, err := s.applier.Apply(c.Request.Context(), d)
	s.applyMu.Unlock()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"changed": res.Changed,
		"action":  res.Action.Kind.String(),
	})
}

// statusFor maps caller mistakes, including local files that do not exist
// on this host, to 422 and everything the console did to 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, resource.ErrValidation),
		errors.Is(err, resource.ErrUnknownKind),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
