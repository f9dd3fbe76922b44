package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrActiveSessionExists means the learner already has a session in progress.
// Callers are expected to offer the incomplete session for resumption.
var ErrActiveSessionExists = errors.New("database: learner already has an active session")

type Session struct {
	ID           int64           `json:"id"`
	LearnerID    int64           `json:"learner_id"`
	Level        int             `json:"level"`
	Status       string          `json:"status"`
	TotalScore   *int            `json:"total_score,omitempty"`
	AverageScore *int            `json:"average_score,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// IncompleteSession carries what a client needs to resume where it left off.
type IncompleteSession struct {
	SessionID    int64     `json:"session_id"`
	Level        int       `json:"level"`
	RoundsScored int       `json:"rounds_scored"`
	NextRound    int       `json:"next_round"`
	CreatedAt    time.Time `json:"created_at"`
}

func (db *DB) CreateSession(ctx context.Context, learnerID int64, level int) (*Session, error) {
	s := &Session{LearnerID: learnerID, Level: level, Status: "active"}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO practice_sessions (learner_id, level, status)
		VALUES ($1, $2, 'active')
		RETURNING id, created_at`,
		learnerID, level).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrActiveSessionExists
		}
		return nil, err
	}
	return s, nil
}

func (db *DB) GetSession(ctx context.Context, id int64) (*Session, error) {
	s := &Session{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, learner_id, level, status, total_score, average_score,
		       summary, created_at, completed_at
		FROM practice_sessions WHERE id = $1`, id).Scan(
		&s.ID, &s.LearnerID, &s.Level, &s.Status, &s.TotalScore,
		&s.AverageScore, &s.Summary, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IncompleteSession returns the learner's active session, if any, along with
// how far they got. Returns ErrNotFound when nothing is in progress.
func (db *DB) IncompleteSession(ctx context.Context, learnerID int64) (*IncompleteSession, error) {
	inc := &IncompleteSession{}
	err := db.Pool.QueryRow(ctx, `
		SELECT s.id, s.level, s.created_at,
		       count(r.id) FILTER (WHERE r.status = 'scored')
		FROM practice_sessions s
		LEFT JOIN practice_rounds r ON r.session_id = s.id
		WHERE s.learner_id = $1 AND s.status = 'active'
		GROUP BY s.id`, learnerID).Scan(
		&inc.SessionID, &inc.Level, &inc.CreatedAt, &inc.RoundsScored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inc.NextRound = inc.RoundsScored + 1
	return inc, nil
}

// CompleteSession records the final totals and summary. The status guard makes
// the transition idempotent when two workers race on the last round.
func (db *DB) CompleteSession(ctx context.Context, id int64, total, average int, summary json.RawMessage) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE practice_sessions
		SET status = 'completed', total_score = $2, average_score = $3,
		    summary = $4, completed_at = now()
		WHERE id = $1 AND status = 'active'`,
		id, total, average, summary)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSessionResults rewrites the stored totals and summary without the
// status guard. Bulk re-analysis uses it to refresh a session that already
// completed, so its totals stay consistent with the rescored rounds.
func (db *DB) UpdateSessionResults(ctx context.Context, id int64, total, average int, summary json.RawMessage) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE practice_sessions
		SET total_score = $2, average_score = $3, summary = $4
		WHERE id = $1`,
		id, total, average, summary)
	return err
}
