// Package web is the HTTP surface: job submission, status, cancel, results,
// the progress stream and the admin API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"meeting-ai-pipeline/internal/config"
	"meeting-ai-pipeline/internal/infra/api"
	"meeting-ai-pipeline/internal/infra/metrics"
	"meeting-ai-pipeline/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg     config.HTTPConfig
	jobs    usecase.JobUseCase
	limiter api.Allower
	auth    *AuthManager
	server  *http.Server
	log     *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, jobs usecase.JobUseCase, limiter api.Allower, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	s := &Server{
		cfg:     cfg,
		jobs:    jobs,
		limiter: limiter,
		auth:    auth,
		log:     &l,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router. Streaming routes are kept out of the
// request timeout.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.Recover(s.log))
	r.Use(api.TraceID(s.log))
	r.Use(api.UserID())
	r.Use(api.RequestLog(s.log))

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(api.Timeout(s.cfg.RequestTimeout))
			r.Use(api.RateLimit(s.limiter, "api", s.cfg.APIRateLimit, s.log))

			r.Post("/jobs", uploadHandler(s.jobs, s.cfg, s.log))
			r.Post("/jobs/text", submitTextHandler(s.jobs))
			r.Get("/jobs", listHandler(s.jobs))
			r.Get("/jobs/{id}", statusHandler(s.jobs))
			r.Post("/jobs/{id}/cancel", cancelHandler(s.jobs))
			r.Delete("/jobs/{id}", cancelHandler(s.jobs))
			r.Get("/jobs/{id}/result", resultHandler(s.jobs))
			r.Get("/tasks/{id}", taskHandler(s.jobs))
			r.Get("/recommendation", recommendHandler(s.jobs))
			r.Post("/admin/login", loginHandler(s.auth))
			r.Post("/admin/logout", logoutHandler(s.auth))

			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireAdmin)
				r.Get("/admin/stats", statsHandler(s.jobs))
				r.Get("/admin/jobs", listHandler(s.jobs))
			})
		})

		if s.cfg.StreamEnabled() {
			r.Get("/jobs/{id}/stream", streamHandler(s.jobs, s.cfg.Keepalive, s.log))
			r.Get("/jobs/{id}/ws", wsHandler(s.jobs, s.cfg.Keepalive, s.log))
		}
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
