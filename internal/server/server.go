// Package server exposes the question answering workflow over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/cache"
	"github.com/Divas-Gupta30/market-agent/internal/graph"
)

// Asker runs questions through the workflow. *graph.Engine implements it.
type Asker interface {
	Invoke(ctx context.Context, question string) (*graph.Result, error)
	Stream(ctx context.Context, question string) (<-chan graph.Event, error)
}

// HealthCheck reports the state of one dependency on /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	asker       Asker
	cache       cache.Cache
	fingerprint string
	checks      []HealthCheck
	validate    *validator.Validate
	log         *zap.Logger
	router      *mux.Router
}

type Option func(*Server)

// WithCache enables answer caching. fingerprint is mixed into every key so
// that a configuration change does not serve stale answers.
func WithCache(c cache.Cache, fingerprint string) Option {
	return func(s *Server) {
		s.cache = c
		s.fingerprint = fingerprint
	}
}

func WithHealthCheck(name string, check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, HealthCheck{Name: name, Check: check})
	}
}

func New(asker Asker, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		asker:    asker,
		validate: validator.New(),
		log:      log.With(zap.String("module", "server")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.requestID, s.observe)

	r.HandleFunc("/v1/ask", s.handleAsk).Methods(http.MethodPost)
	r.HandleFunc("/v1/ask/stream", s.handleAskStream).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("server exited")
	return nil
}
