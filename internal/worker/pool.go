package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
	"github.com/speaklab/practice-engine/internal/scoring"
	"github.com/speaklab/practice-engine/internal/transcribe"
)

// Job is one round waiting to be scored. Fields are copied at enqueue time so
// a job never reads mutable request state.
type Job struct {
	RoundID     int64
	SessionID   int64
	LearnerID   int64
	RoundNumber int
	Level       int
	Prompt      string
	AudioKey    string

	// Client-side evidence, both optional.
	ClientTranscript string
	ClientHighlights []int
}

// QueueStats reports the current state of the scoring queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Store is the slice of the database layer the workers write through.
type Store interface {
	FinalizeRound(ctx context.Context, roundID int64, transcript json.RawMessage, score int, analysis json.RawMessage) error
	InsertQuickEvaluation(ctx context.Context, ev *database.QuickEvaluation) error
	CountScoredRounds(ctx context.Context, sessionID int64) (int, error)
}

// Transcriber produces a transcript for a local audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcribe.Response, error)
}

// RoundGrader is the AI assessment used to refine the lexical score.
type RoundGrader interface {
	GradeRound(ctx context.Context, expected, transcript string) (*grader.RoundGrade, error)
}

// AudioResolver maps a stored audio key to a local file path the ASR
// subprocess can read, fetching from the backup tier when needed.
type AudioResolver interface {
	LocalPath(key string) string
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Finalizer wraps up a session once its last round is scored. Refresh is the
// explicit re-aggregation path: it recomputes totals and summary even for a
// session that already completed.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID int64)
	Refresh(ctx context.Context, sessionID int64)
}

// Options configures the scoring worker pool.
type Options struct {
	Store            Store
	Audio            AudioResolver
	ASR              Transcriber // nil disables server-side transcription
	Grader           RoundGrader // nil disables AI refinement
	Finalizer        Finalizer
	Workers          int
	QueueSize        int
	JobTimeout       time.Duration
	RoundsPerSession int
	Log              zerolog.Logger
}

// WorkerPool runs the scoring jobs. With a single worker (the default config)
// round processing stays sequential per instance; the queue absorbs bursts.
type WorkerPool struct {
	jobs   chan Job
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

func NewWorkerPool(opts Options) *WorkerPool {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	if opts.RoundsPerSession <= 0 {
		opts.RoundsPerSession = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "worker").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("scoring worker pool started")
}

// Stop signals workers to drain and waits for completion.
func (wp *WorkerPool) Stop() {
	close(wp.jobs)
	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("scoring worker pool stopped")
}

// Enqueue adds a job to the scoring queue. Returns false if the queue is full.
func (wp *WorkerPool) Enqueue(j Job) bool {
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// QueueLen implements metrics.WorkerStats.
func (wp *WorkerPool) QueueLen() int { return len(wp.jobs) }

// Processed implements metrics.WorkerStats.
func (wp *WorkerPool) Processed() int64 { return wp.completed.Load() + wp.failed.Load() }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		wp.runJob(log, job)
	}
}

// runJob is the per-job fault boundary. A failing or panicking job is counted,
// and the round is degraded to a terminal state rather than left processing.
func (wp *WorkerPool) runJob(log zerolog.Logger, job Job) {
	if err := wp.safeProcess(log, job); err != nil {
		wp.failed.Add(1)
		log.Warn().Err(err).
			Int64("round_id", job.RoundID).
			Int64("session_id", job.SessionID).
			Msg("round scoring failed")
		wp.degradeRound(job)
	} else {
		wp.completed.Add(1)
	}
}

func (wp *WorkerPool) safeProcess(log zerolog.Logger, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panicked: %v", r)
		}
	}()
	return wp.processJob(log, job)
}

// degradeRound writes a fallback terminal result for a round whose scoring
// job failed, so clients polling the analysis are not stuck on processing.
// The status guard in the terminal update keeps this from touching a round
// that was already scored.
func (wp *WorkerPool) degradeRound(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	analysis, err := json.Marshal(database.Analysis{
		Feedback:     "We couldn't score this round. Please try recording it again.",
		MissingWords: []string{},
		Source:       scoring.SourceNone,
	})
	if err != nil {
		return
	}
	if err := wp.opts.Store.FinalizeRound(ctx, job.RoundID, nil, 0, analysis); err != nil {
		wp.log.Warn().Err(err).Int64("round_id", job.RoundID).Msg("degraded finalize failed")
	}
}
