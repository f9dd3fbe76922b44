package database

import (
	"context"
	"time"
)

type HistoryEntry struct {
	LearnerID    int64
	PracticeType string
	// CompletedAt is when the session finished. The database derives the
	// practice day from it, keeping the calendar consistent with the
	// column's current_date default.
	CompletedAt     time.Time
	SessionID       int64
	Level           int
	TotalScore      int
	AverageScore    int
	DurationMinutes int
}

// UpsertHistory records a completed session in the per-day history. When the
// learner already has an entry for that day, the better average wins.
func (db *DB) UpsertHistory(ctx context.Context, e *HistoryEntry) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO practice_history
			(learner_id, practice_type, practice_day, session_id, level,
			 total_score, average_score, duration_minutes)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
		ON CONFLICT (learner_id, practice_type, practice_day) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    level = EXCLUDED.level,
		    total_score = EXCLUDED.total_score,
		    average_score = EXCLUDED.average_score,
		    duration_minutes = EXCLUDED.duration_minutes
		WHERE EXCLUDED.average_score > practice_history.average_score`,
		e.LearnerID, e.PracticeType, e.CompletedAt, e.SessionID, e.Level,
		e.TotalScore, e.AverageScore, e.DurationMinutes)
	return err
}
