package web

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/callcenter/pkg/core"
)

// ServerConfig configures the fasthttp server
type ServerConfig struct {
	Addr string
	// MaxInFlight caps concurrent requests; each /call holds a slot until
	// its call finishes
	MaxInFlight     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxConnsPerIP   int
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultServerConfig returns defaults sized for calls lasting up to a few minutes
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:            addr,
		MaxInFlight:     1000,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     time.Minute,
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
	}
}

// Validate checks the configuration
func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return &core.Error{Code: core.CodeInvalidConfig, Message: "server address must be set"}
	}
	if c.MaxInFlight < 0 {
		return &core.Error{Code: core.CodeInvalidConfig, Message: "max in-flight requests must not be negative"}
	}
	return nil
}

// Server serves a Router over fasthttp with in-flight backpressure
type Server struct {
	router       *Router
	server       *fasthttp.Server
	addr         string
	logger       core.Logger
	backpressure *BackpressureController

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	errorRequests      atomic.Int64
}

// ServerMetrics provides server counters
type ServerMetrics struct {
	InFlight           int64 `json:"in_flight"`
	Rejected           int64 `json:"rejected"`
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	ErrorRequests      int64 `json:"error_requests"`
}

// NewServer creates a server for cfg
func NewServer(cfg ServerConfig, logger core.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.NopLogger()
	}

	s := &Server{
		router:       NewRouter(),
		addr:         cfg.Addr,
		logger:       logger,
		backpressure: NewBackpressureController(cfg.MaxInFlight),
	}
	s.server = &fasthttp.Server{
		Handler:               s.handleRequest,
		Name:                  "callcenter",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		MaxConnsPerIP:         cfg.MaxConnsPerIP,
		ReadBufferSize:        cfg.ReadBufferSize,
		WriteBufferSize:       cfg.WriteBufferSize,
		NoDefaultServerHeader: true,
	}
	return s, nil
}

// Router returns the router
func (s *Server) Router() *Router {
	return s.router
}

// Handler returns the raw fasthttp handler, e.g. for in-memory listeners
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.handleRequest
}

// ListenAndServe blocks serving on the configured address
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.addr)
	return s.server.ListenAndServe(s.addr)
}

// Serve blocks serving on ln
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections and waits for open requests
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Metrics returns current server counters
func (s *Server) Metrics() ServerMetrics {
	bp := s.backpressure.Metrics()
	return ServerMetrics{
		InFlight:           bp.InFlight,
		Rejected:           bp.Rejected,
		TotalRequests:      s.totalRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		ErrorRequests:      s.errorRequests.Load(),
	}
}

func (s *Server) handleRequest(rc *fasthttp.RequestCtx) {
	s.totalRequests.Add(1)

	if !s.backpressure.TryAcquire() {
		rc.SetStatusCode(fasthttp.StatusServiceUnavailable)
		rc.SetContentType("application/json")
		rc.WriteString(`{"error":"capacity_exceeded","message":"too many requests in flight","code":"BACKPRESSURE"}`)
		return
	}
	defer s.backpressure.Release()

	s.router.ServeFastHTTP(NewFastRequestContext(rc))

	switch status := rc.Response.StatusCode(); {
	case status >= 200 && status < 300:
		s.successfulRequests.Add(1)
	case status >= 500:
		s.errorRequests.Add(1)
	}
}
