package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type Round struct {
	ID          int64           `json:"id"`
	SessionID   int64           `json:"session_id"`
	RoundNumber int             `json:"round_number"`
	Prompt      string          `json:"prompt"`
	AudioURL    *string         `json:"audio_url,omitempty"`
	Transcript  json.RawMessage `json:"transcript,omitempty"`
	Score       int             `json:"score"`
	Analysis    json.RawMessage `json:"analysis,omitempty"`
	Translation *string         `json:"translation,omitempty"`
	TimeTaken   *int            `json:"time_taken,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Analysis is the per-round result stored as jsonb and returned to clients.
type Analysis struct {
	Feedback      string         `json:"feedback"`
	Errors        []string       `json:"errors"`
	CorrectedText string         `json:"corrected_text,omitempty"`
	Score         int            `json:"score"`
	MissingWords  []string       `json:"missing_words"`
	Source        string         `json:"source,omitempty"`
	WordAnalysis  []WordAnalysis `json:"word_analysis,omitempty"`
}

// WordAnalysis is derived from ASR word timestamps when they are available.
type WordAnalysis struct {
	Word       string   `json:"word"`
	Start      *float64 `json:"start,omitempty"`
	End        *float64 `json:"end,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	WordIndex  int      `json:"wordIndex"`
}

// UpsertRound creates the round in the processing state. A resubmission of the
// same round number replaces the audio and resets the round for rescoring.
func (db *DB) UpsertRound(ctx context.Context, sessionID int64, roundNumber int, prompt, audioURL string, timeTaken *int) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO practice_rounds (session_id, round_number, prompt, audio_url, time_taken, status)
		VALUES ($1, $2, $3, $4, $5, 'processing')
		ON CONFLICT (session_id, round_number) DO UPDATE
		SET prompt = EXCLUDED.prompt, audio_url = EXCLUDED.audio_url,
		    time_taken = EXCLUDED.time_taken, status = 'processing',
		    score = 0, analysis = NULL, transcript = NULL, updated_at = now()
		RETURNING id`,
		sessionID, roundNumber, prompt, audioURL, timeTaken).Scan(&id)
	return id, err
}

func (db *DB) GetRound(ctx context.Context, sessionID, roundID int64) (*Round, error) {
	r := &Round{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, session_id, round_number, prompt, audio_url, transcript,
		       score, analysis, translation, time_taken, status, created_at, updated_at
		FROM practice_rounds WHERE id = $1 AND session_id = $2`,
		roundID, sessionID).Scan(
		&r.ID, &r.SessionID, &r.RoundNumber, &r.Prompt, &r.AudioURL,
		&r.Transcript, &r.Score, &r.Analysis, &r.Translation, &r.TimeTaken,
		&r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (db *DB) SessionRounds(ctx context.Context, sessionID int64) ([]Round, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, session_id, round_number, prompt, audio_url, transcript,
		       score, analysis, translation, time_taken, status, created_at, updated_at
		FROM practice_rounds WHERE session_id = $1
		ORDER BY round_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.RoundNumber, &r.Prompt, &r.AudioURL,
			&r.Transcript, &r.Score, &r.Analysis, &r.Translation, &r.TimeTaken,
			&r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FinalizeRound writes the score, analysis, and transcript in one terminal
// update. The status guard keeps a retried job from clobbering a scored round.
func (db *DB) FinalizeRound(ctx context.Context, roundID int64, transcript json.RawMessage, score int, analysis json.RawMessage) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE practice_rounds
		SET transcript = $2, score = $3, analysis = $4,
		    status = 'scored', updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		roundID, transcript, score, analysis)
	return err
}

func (db *DB) SetRoundTranslation(ctx context.Context, sessionID, roundID int64, translation string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE practice_rounds SET translation = $3, updated_at = now()
		WHERE id = $2 AND session_id = $1`,
		sessionID, roundID, translation)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) CountScoredRounds(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM practice_rounds
		WHERE session_id = $1 AND status = 'scored'`, sessionID).Scan(&n)
	return n, err
}

// ResetRoundsForRescore flips audio-backed rounds back to the processing
// state and returns them for re-analysis. Rounds that already carry an
// analysis with a positive score are left alone; an ASR-only rescore must
// not discard a good highlight-based result.
func (db *DB) ResetRoundsForRescore(ctx context.Context, sessionID int64) ([]Round, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE practice_rounds
		SET status = 'processing', updated_at = now()
		WHERE session_id = $1 AND audio_url IS NOT NULL
		  AND (analysis IS NULL OR score = 0)
		RETURNING id, session_id, round_number, prompt, audio_url`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.ID, &r.SessionID, &r.RoundNumber, &r.Prompt, &r.AudioURL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionPrompts lists prompts already used in a session so generation can
// avoid repeating them.
func (db *DB) SessionPrompts(ctx context.Context, sessionID int64) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT prompt FROM practice_rounds
		WHERE session_id = $1 ORDER BY round_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}
