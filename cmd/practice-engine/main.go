package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/api"
	"github.com/speaklab/practice-engine/internal/config"
	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
	"github.com/speaklab/practice-engine/internal/metrics"
	"github.com/speaklab/practice-engine/internal/session"
	"github.com/speaklab/practice-engine/internal/storage"
	"github.com/speaklab/practice-engine/internal/transcribe"
	"github.com/speaklab/practice-engine/internal/worker"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "postgres connection string")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "audio upload directory")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("practice-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Audio storage
	audio, err := storage.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio storage")
	}
	log.Info().Str("type", audio.Type()).Str("dir", cfg.AudioDir).Msg("audio storage ready")

	// Transcription
	var provider transcribe.Provider
	switch cfg.ASRMode {
	case "http":
		provider = transcribe.NewWhisperClient(cfg.ASRURL)
	default:
		provider, err = transcribe.NewExecProvider(cfg.ASRCommand)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid asr command")
		}
	}
	asr := transcribe.NewTiered(provider, cfg.ASRModel, cfg.ASRFallbackModel, cfg.ASRLanguage, cfg.ASRTimeout, log)

	// AI grading. Without an API key the engine runs on lexical scoring only.
	var (
		gr       *grader.Grader
		recorder *grader.Recorder
	)
	if cfg.GraderAPIKey != "" {
		client := grader.NewClient(cfg.GraderBaseURL, cfg.GraderAPIKey, cfg.GraderModel, cfg.GraderTimeout, log)
		recorder, err = grader.NewRecorder(db, cfg.TrainThreshold, cfg.TrainCommand, log)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid train command")
		}
		gr = grader.New(client, recorder, log)
	} else {
		log.Warn().Msg("GRADER_API_KEY not set, ai grading disabled")
	}

	// Session aggregation and scoring workers
	agg := session.NewAggregator(db, summarizer(gr), cfg.RoundsPerSession, log)

	pool := worker.NewWorkerPool(worker.Options{
		Store:            db,
		Audio:            audio,
		ASR:              asr,
		Grader:           roundGrader(gr),
		Finalizer:        agg,
		Workers:          cfg.Workers,
		QueueSize:        cfg.QueueSize,
		JobTimeout:       cfg.ASRBatchTimeout,
		RoundsPerSession: cfg.RoundsPerSession,
		Log:              log,
	})
	pool.Start()

	prometheus.MustRegister(metrics.NewCollector(db.Pool, pool))

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	deps := api.Deps{
		DB:        db,
		Audio:     audio,
		Queue:     pool,
		Version:   version,
		StartTime: startTime,
		Reprocess: func(ctx context.Context, sessionID int64) (int, error) {
			return pool.ReprocessSession(ctx, db, sessionID, cfg.ReprocessBatch)
		},
	}
	if gr != nil {
		deps.Prompts = gr
		deps.Translator = gr
	}
	srv := api.NewServer(cfg, deps, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Stop accepting requests, then drain the scoring queue.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	pool.Stop()

	log.Info().Msg("practice-engine stopped")
}

// summarizer converts a possibly-nil grader into the aggregator dependency.
func summarizer(g *grader.Grader) session.Summarizer {
	if g == nil {
		return nil
	}
	return g
}

func roundGrader(g *grader.Grader) worker.RoundGrader {
	if g == nil {
		return nil
	}
	return g
}
