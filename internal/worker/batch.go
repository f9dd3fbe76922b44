package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/speaklab/practice-engine/internal/database"
)

// ReprocessStore is the extra database surface bulk re-analysis needs.
type ReprocessStore interface {
	GetSession(ctx context.Context, id int64) (*database.Session, error)
	ResetRoundsForRescore(ctx context.Context, sessionID int64) ([]database.Round, error)
}

// ReprocessSession rescores the unanalyzed audio-backed rounds of a session
// and then re-aggregates the session totals and summary. Rounds run in small
// concurrent batches; each batch joins before the next starts so a long
// session cannot monopolize the ASR backend. Only the ASR evidence path
// applies here, the client-side evidence is not retained.
func (wp *WorkerPool) ReprocessSession(ctx context.Context, store ReprocessStore, sessionID int64, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 3
	}

	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	rounds, err := store.ResetRoundsForRescore(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reset rounds: %w", err)
	}
	if len(rounds) == 0 {
		return 0, nil
	}

	log := wp.log.With().Int64("session_id", sessionID).Logger()
	log.Info().Int("rounds", len(rounds)).Int("batch_size", batchSize).Msg("bulk re-analysis started")

	done := 0
	for i := 0; i < len(rounds); i += batchSize {
		end := i + batchSize
		if end > len(rounds) {
			end = len(rounds)
		}

		var wg sync.WaitGroup
		for _, r := range rounds[i:end] {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			job := Job{
				RoundID:     r.ID,
				SessionID:   r.SessionID,
				LearnerID:   sess.LearnerID,
				RoundNumber: r.RoundNumber,
				Level:       sess.Level,
				Prompt:      r.Prompt,
			}
			if r.AudioURL != nil {
				job.AudioKey = *r.AudioURL
			}

			wg.Add(1)
			go func(j Job) {
				defer wg.Done()
				wp.runJob(log, j)
			}(job)
		}
		wg.Wait()
		done = end
	}

	// Explicit re-analysis always re-aggregates, even when fewer rounds than
	// a full session were rescored or the session already completed.
	if wp.opts.Finalizer != nil {
		wp.opts.Finalizer.Refresh(ctx, sessionID)
	}

	log.Info().Int("rounds", done).Msg("bulk re-analysis finished")
	return done, nil
}
