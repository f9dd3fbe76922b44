package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/config"
	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/metrics"
	"github.com/speaklab/practice-engine/internal/storage"
)

// Queue is the worker-pool surface the API uses.
type Queue interface {
	Enqueuer
	QueueStatser
}

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	DB         *database.DB
	Audio      storage.AudioStore
	Queue      Queue
	Prompts    PromptGenerator
	Translator TranslationChecker
	Reprocess  ReprocessFunc
	Version    string
	StartTime  time.Time
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(CORS)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface
	health := NewHealthHandler(deps.DB, deps.Queue, deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	sessions := NewSessionsHandler(deps.DB, deps.Prompts, deps.Reprocess, cfg.RoundsPerSession, log)
	rounds := NewRoundsHandler(deps.DB, deps.Audio, deps.Queue, deps.Translator, cfg.RoundsPerSession, log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		sessions.Routes(r)
		rounds.Routes(r)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
