// Package server exposes a Translator over HTTP: a JSON endpoint, a
// server-sent event stream, a websocket, health probes and Prometheus
// metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-s2s/internal/config"
	"github.com/23skdu/longbow-s2s/internal/entity"
	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/onehot"
	"github.com/23skdu/longbow-s2s/internal/pipeline"
	"github.com/23skdu/longbow-s2s/internal/vocab"
)

// Translator is the part of pipeline.Translator the handlers use.
type Translator interface {
	TranslateDetailed(ctx context.Context, text string) (*pipeline.Result, error)
	Stream(ctx context.Context, text string, fn func(rune) error) (string, error)
}

type Server struct {
	cfg   config.ServerConfig
	tr    Translator
	log   *logger.Logger
	ready atomic.Bool

	http *http.Server
}

func New(cfg config.ServerConfig, tr Translator) *Server {
	s := &Server{
		cfg: cfg,
		tr:  tr,
		log: logger.Log.Component("http"),
	}
	s.ready.Store(tr != nil)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route table wrapped in logging and CORS.
func (s *Server) Handler() http.Handler {
	cors := NewCORSMiddleware(s.cfg.AllowedOrigins)
	logging := NewLoggingMiddleware(s.log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler())
	mux.HandleFunc("/healthz", HealthzHandler())
	mux.HandleFunc("/readyz", s.ReadyzHandler())
	mux.HandleFunc("/version", VersionHandler())
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/translate", cors.Middleware(s.TranslateHandler()))
	mux.HandleFunc("/api/stream", cors.Middleware(s.StreamHandler()))
	mux.HandleFunc("/ws", s.WebSocketHandler())

	return logging.Middleware(mux)
}

func (s *Server) ListenAndServe() error {
	s.log.Info("listening", "addr", s.cfg.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.http.Shutdown(ctx)
}

// requestContext applies the configured per request timeout.
func (s *Server) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.RequestTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// StatusFor maps a translation error to an HTTP status. Input the model
// cannot handle is the client's problem; everything else is ours.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, vocab.ErrMissingCharacter),
		errors.Is(err, onehot.ErrInputTooLong),
		errors.Is(err, entity.ErrMismatchedPlaceholder):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
