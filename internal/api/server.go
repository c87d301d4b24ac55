// Package api translates HTTP payloads into lease engine calls and engine
// results into HTTP responses. It owns envelope validation; everything
// semantic happens in the engine.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/robofleet/resmux/internal/api/middleware"
	"github.com/robofleet/resmux/internal/broker/engine"
	"github.com/robofleet/resmux/internal/clock"
	"github.com/robofleet/resmux/internal/health"
	"github.com/robofleet/resmux/internal/log"
	"github.com/robofleet/resmux/internal/ratelimit"
)

// Options configures the optional parts of the server.
type Options struct {
	// Health serves /healthz and /readyz when set.
	Health *health.Manager

	// RobotLimiter rate-limits write operations per robot when set.
	RobotLimiter *ratelimit.Limiter

	// HTTPRateLimitPerMin enables the per-IP limiter when positive.
	HTTPRateLimitPerMin int

	// TracingService enables the tracing middleware when non-empty.
	TracingService string
}

// Server is the HTTP face of the lease broker.
type Server struct {
	engine  *engine.Engine
	clock   clock.Clock
	opts    Options
	maxBody int64
}

// NewServer creates a server over the given engine and clock.
func NewServer(eng *engine.Engine, c clock.Clock, opts Options) *Server {
	return &Server{
		engine:  eng,
		clock:   c,
		opts:    opts,
		maxBody: 1 << 20, // 1 MB is generous for lease envelopes
	}
}

// Routes builds the chi router with the canonical middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Recoverer outermost, correlation next, then observability.
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(log.Middleware())
	r.Use(middleware.Metrics())
	if s.opts.TracingService != "" {
		r.Use(middleware.Tracing(s.opts.TracingService))
	}
	if s.opts.HTTPRateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(s.opts.HTTPRateLimitPerMin, time.Minute))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/registration", s.handleRegistration)
		r.Post("/release", s.handleRelease)
		r.Post("/request_resource_status", s.handleResourceStatus)
		r.Post("/robot_status", s.handleRobotStatus)
		r.Get("/all_data", s.handleAllData)
	})

	if s.opts.Health != nil {
		r.Get("/healthz", s.opts.Health.ServeHealth)
		r.Get("/readyz", s.opts.Health.ServeReady)
	}

	return r
}
