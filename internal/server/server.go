package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/logging"
)

// Backend is the session surface the server needs; *session.Session
// implements it.
type Backend interface {
	Graph() *graph.Graph
	Operate(ctx context.Context, controlID, op string, args ...string) error
}

// Config holds the server configuration
type Config struct {
	Addr    string
	Backend Backend
	Health  *Health
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP status and control server
type Server struct {
	config   *Config
	http     *http.Server
	listener net.Listener

	mu          sync.Mutex
	activeConns map[net.Conn]struct{}
}

// New creates a server. Nothing listens until Start.
func New(config *Config) (*Server, error) {
	if config.Backend == nil {
		return nil, errors.New("server needs a backend")
	}
	if config.Health == nil {
		config.Health = NewHealth()
	}
	s := &Server{
		config:      config,
		activeConns: make(map[net.Conn]struct{}),
	}
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ConnState:    s.trackConn,
	}
	return s, nil
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	if s.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.config.Metrics)
	}
	r.Route("/api/controls", func(r chi.Router) {
		r.Get("/", s.handleControls)
		r.Get("/{id}", s.handleControl)
		r.Post("/{id}/{op}", s.handleOperate)
	})
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	logging.Info("HTTP server listening", zap.String("addr", listener.Addr().String()))

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		logging.Warn("HTTP shutdown timeout, forcing close", zap.Error(err))
		return s.http.Close()
	}
	return nil
}

// GetActiveConnections returns the number of open client connections
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state {
	case http.StateNew:
		s.activeConns[conn] = struct{}{}
	case http.StateClosed, http.StateHijacked:
		delete(s.activeConns, conn)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
