package session

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
	"github.com/speaklab/practice-engine/internal/metrics"
)

// Store is the database surface session finalization needs.
type Store interface {
	GetSession(ctx context.Context, id int64) (*database.Session, error)
	SessionRounds(ctx context.Context, sessionID int64) ([]database.Round, error)
	CompleteSession(ctx context.Context, id int64, total, average int, summary json.RawMessage) (bool, error)
	UpdateSessionResults(ctx context.Context, id int64, total, average int, summary json.RawMessage) error
	UpsertHistory(ctx context.Context, e *database.HistoryEntry) error
}

// Summarizer produces the end-of-session wrap-up.
type Summarizer interface {
	Summarize(ctx context.Context, scores []int, average int) (*grader.SessionSummary, error)
}

// Aggregator closes out finished sessions: totals, AI summary, history.
type Aggregator struct {
	store      Store
	summarizer Summarizer // nil falls straight to the static summary
	rounds     int
	log        zerolog.Logger
}

func NewAggregator(store Store, summarizer Summarizer, roundsPerSession int, log zerolog.Logger) *Aggregator {
	if roundsPerSession <= 0 {
		roundsPerSession = 10
	}
	return &Aggregator{
		store:      store,
		summarizer: summarizer,
		rounds:     roundsPerSession,
		log:        log.With().Str("component", "aggregator").Logger(),
	}
}

// Finalize computes the session totals and marks it completed. It is safe to
// call more than once; only the caller that wins the status transition writes
// the history entry. Errors are logged, not returned: finalization is a
// best-effort tail of the last round's scoring job.
func (a *Aggregator) Finalize(ctx context.Context, sessionID int64) {
	log := a.log.With().Int64("session_id", sessionID).Logger()

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("load session failed")
		return
	}
	if sess.Status != "active" {
		return
	}
	a.complete(ctx, log, sess)
}

// Refresh is the explicit re-aggregation path behind bulk re-analysis. An
// active session is completed as usual; a completed one gets its totals and
// summary recomputed in place so they stay consistent with rescored rounds.
func (a *Aggregator) Refresh(ctx context.Context, sessionID int64) {
	log := a.log.With().Int64("session_id", sessionID).Logger()

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("load session failed")
		return
	}

	switch sess.Status {
	case "active":
		a.complete(ctx, log, sess)
	case "completed":
		total, average, scores := a.totals(ctx, log, sessionID)
		if scores == nil {
			return
		}
		summaryJSON := a.summaryJSON(ctx, log, scores, average)
		if err := a.store.UpdateSessionResults(ctx, sessionID, total, average, summaryJSON); err != nil {
			log.Warn().Err(err).Msg("update session results failed")
			return
		}
		completedAt := time.Now()
		if sess.CompletedAt != nil {
			completedAt = *sess.CompletedAt
		}
		a.writeHistory(ctx, log, sess, total, average, completedAt)
		log.Info().Int("total", total).Int("average", average).Msg("session results refreshed")
	}
}

func (a *Aggregator) complete(ctx context.Context, log zerolog.Logger, sess *database.Session) {
	total, average, scores := a.totals(ctx, log, sess.ID)
	if scores == nil {
		return
	}

	summaryJSON := a.summaryJSON(ctx, log, scores, average)

	won, err := a.store.CompleteSession(ctx, sess.ID, total, average, summaryJSON)
	if err != nil {
		log.Warn().Err(err).Msg("complete session failed")
		return
	}
	if !won {
		// Another worker finalized concurrently.
		return
	}

	a.writeHistory(ctx, log, sess, total, average, time.Now())
	metrics.SessionsCompletedTotal.Inc()
	log.Info().
		Int("total", total).
		Int("average", average).
		Int("rounds_scored", len(scores)).
		Msg("session completed")
}

// totals sums the scored rounds. The session is always averaged over the full
// round count, so an abandoned-then-resumed session with missing rounds
// scores lower. A nil scores slice means the rounds could not be loaded.
func (a *Aggregator) totals(ctx context.Context, log zerolog.Logger, sessionID int64) (int, int, []int) {
	rounds, err := a.store.SessionRounds(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("load rounds failed")
		return 0, 0, nil
	}

	scores := []int{}
	total := 0
	for _, r := range rounds {
		if r.Status != "scored" {
			continue
		}
		scores = append(scores, r.Score)
		total += r.Score
	}
	average := int(math.Round(float64(total) / float64(a.rounds)))
	return total, average, scores
}

func (a *Aggregator) summaryJSON(ctx context.Context, log zerolog.Logger, scores []int, average int) json.RawMessage {
	summary := a.summarize(ctx, scores, average)
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		log.Warn().Err(err).Msg("marshal summary failed")
		return nil
	}
	return summaryJSON
}

func (a *Aggregator) writeHistory(ctx context.Context, log zerolog.Logger, sess *database.Session, total, average int, completedAt time.Time) {
	duration := int(math.Round(completedAt.Sub(sess.CreatedAt).Minutes()))
	if duration < 0 {
		duration = 0
	}
	err := a.store.UpsertHistory(ctx, &database.HistoryEntry{
		LearnerID:       sess.LearnerID,
		PracticeType:    "speaking_practice",
		CompletedAt:     completedAt,
		SessionID:       sess.ID,
		Level:           sess.Level,
		TotalScore:      total,
		AverageScore:    average,
		DurationMinutes: duration,
	})
	if err != nil {
		log.Warn().Err(err).Msg("history upsert failed")
	}
}

func (a *Aggregator) summarize(ctx context.Context, scores []int, average int) *grader.SessionSummary {
	if a.summarizer == nil {
		return grader.FallbackSummary()
	}
	summary, err := a.summarizer.Summarize(ctx, scores, average)
	if err != nil {
		a.log.Warn().Err(err).Msg("ai summary failed, using fallback")
		return grader.FallbackSummary()
	}
	return summary
}
