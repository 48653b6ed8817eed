// Package api exposes the executor over HTTP: the TradingView webhook, health
// and metrics endpoints, and an authenticated WebSocket feed of executions.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tv-executor/internal/engine"
	"tv-executor/internal/events"
	"tv-executor/internal/monitor"
)

// maxPayloadBytes bounds webhook bodies; TradingView alerts are far smaller.
const maxPayloadBytes = 64 << 10

// Server wires HTTP endpoints around the execution service.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	JWTSecret string
	Logger    *slog.Logger

	replay       ReplayStore
	replayWindow time.Duration
}

// Options configures NewServer. Engine is required; the rest is optional.
type Options struct {
	Engine       engine.Service
	Bus          *events.Bus
	Metrics      *monitor.Metrics
	Logger       *slog.Logger
	JWTSecret    string // empty disables /ws
	RateLimiter  *RateLimiter
	Replay       ReplayStore
	ReplayWindow time.Duration // zero disables the replay guard
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, opts.Metrics))
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware())
	}

	s := &Server{
		Router:       r,
		Engine:       opts.Engine,
		Bus:          opts.Bus,
		Metrics:      opts.Metrics,
		JWTSecret:    opts.JWTSecret,
		Logger:       logger,
		replay:       opts.Replay,
		replayWindow: opts.ReplayWindow,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	webhook := []gin.HandlerFunc{}
	if s.replay != nil && s.replayWindow > 0 {
		webhook = append(webhook, ReplayGuard(s.replay, s.replayWindow, s.Logger))
	}
	webhook = append(webhook, s.webhook)
	s.Router.POST("/webhook", webhook...)

	if s.JWTSecret != "" && s.Bus != nil {
		s.Router.GET("/ws", AuthMiddleware(s.JWTSecret), s.websocket)
	}
}

// Handler returns the router for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }
