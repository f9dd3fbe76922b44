package database

import (
	"context"
	"encoding/json"
)

// QuickEvaluation is a lightweight per-round record kept for trend views. It is
// written fire-and-forget alongside the round analysis.
type QuickEvaluation struct {
	LearnerID    int64
	SessionID    int64
	RoundID      int64
	Score        int
	Feedback     string
	Strengths    []string
	Improvements []string
}

func (db *DB) InsertQuickEvaluation(ctx context.Context, ev *QuickEvaluation) error {
	strengths, err := json.Marshal(ev.Strengths)
	if err != nil {
		return err
	}
	improvements, err := json.Marshal(ev.Improvements)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO quick_evaluations
			(round_id, session_id, learner_id, score, feedback, strengths, improvements)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.RoundID, ev.SessionID, ev.LearnerID, ev.Score,
		ev.Feedback, strengths, improvements)
	return err
}
