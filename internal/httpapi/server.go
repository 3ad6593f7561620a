package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ringkv/ringkv/internal/node"
	"go.uber.org/zap"
)

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	BindAddress       string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RateLimitEnabled  bool
	RateLimitPerSec   float64
	RateLimitBurst    int
}

// Server is the HTTP adapter around one Node.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the router, applies the middleware chain, and registers
// every endpoint from SPEC_FULL.md §6.
func NewServer(cfg ServerConfig, n *node.Node, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	h := newHandlers(n)

	mws := []func(http.Handler) http.Handler{
		Recovery(logger),
		RequestID,
		Logging(logger),
		CORS,
	}
	if cfg.RateLimitEnabled {
		rl := NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst, logger)
		mws = append(mws, rl.Limit)
	}
	router.Use(chain(mws...))

	router.HandleFunc("/data/{key}", h.PutData).Methods(http.MethodPut)
	router.HandleFunc("/data/{key}", h.GetData).Methods(http.MethodGet)
	router.HandleFunc("/cluster/status", h.ClusterStatus).Methods(http.MethodGet)
	router.HandleFunc("/cluster/ring", h.ClusterRing).Methods(http.MethodGet)
	router.HandleFunc("/cluster/distribution", h.ClusterDistribution).Methods(http.MethodGet)
	router.HandleFunc("/cluster/nodes", h.AddNode).Methods(http.MethodPost)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "endpoint not found")
	})

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.BindAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Router exposes the underlying router for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until Shutdown is called. Returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
