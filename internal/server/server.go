// Package server exposes the duplicate-detection engine over HTTP for the
// upload workflow.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxUpload   = 64 << 20
	defaultReqTimeout  = 90 * time.Second
	shutdownGrace      = 10 * time.Second
	defaultSuggestions = 15
)

// Options configures a Server. Store is optional and enables corpus checks
// and record storage. Nil thresholds select the engine defaults; zero is a
// valid exact-match threshold.
type Options struct {
	Engine             *designcheck.Config
	Store              store.Store
	Threshold          *int
	ReferenceThreshold *int
	MaxUploadBytes     int64
	RequestTimeout     time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	engine       *designcheck.Config
	store        store.Store
	threshold    int
	refThreshold int
	maxUpload    int64
	reqTimeout   time.Duration
}

// New builds a Server from opts, filling unset values with defaults. The
// engine Config is copied with its defaults applied once, so handlers share
// it read-only.
func New(opts Options) *Server {
	s := &Server{
		engine:       opts.Engine.WithDefaults(),
		store:        opts.Store,
		threshold:    thresholdOption(opts.Threshold, designcheck.DefaultThreshold),
		refThreshold: thresholdOption(opts.ReferenceThreshold, designcheck.DefaultReferenceThreshold),
		maxUpload:    opts.MaxUploadBytes,
		reqTimeout:   opts.RequestTimeout,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUpload
	}
	if s.reqTimeout <= 0 {
		s.reqTimeout = defaultReqTimeout
	}
	return s
}

func thresholdOption(v *int, def int) int {
	if v == nil || *v < 0 {
		return def
	}
	return *v
}

// Routes returns the router with all endpoints mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.reqTimeout))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/hash", s.hash)
		r.Post("/compare", s.compare)
		r.Post("/duplicates", s.duplicates)
		r.Post("/extract", s.extract)
		r.Post("/validate", s.validate)
		r.Post("/validate/batch", s.validateBatch)
		r.Post("/records", s.putRecord)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("designcheck: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	slog.Info("designcheck: shutting down")
	return srv.Shutdown(shutdownCtx)
}
