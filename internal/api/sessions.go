package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
)

// Store is the database surface the HTTP handlers read and write.
type Store interface {
	CreateSession(ctx context.Context, learnerID int64, level int) (*database.Session, error)
	GetSession(ctx context.Context, id int64) (*database.Session, error)
	IncompleteSession(ctx context.Context, learnerID int64) (*database.IncompleteSession, error)
	SessionRounds(ctx context.Context, sessionID int64) ([]database.Round, error)
	SessionPrompts(ctx context.Context, sessionID int64) ([]string, error)
	UpsertRound(ctx context.Context, sessionID int64, roundNumber int, prompt, audioURL string, timeTaken *int) (int64, error)
	GetRound(ctx context.Context, sessionID, roundID int64) (*database.Round, error)
	SetRoundTranslation(ctx context.Context, sessionID, roundID int64, translation string) error
}

// PromptGenerator produces the next speaking prompt for a round.
type PromptGenerator interface {
	GeneratePrompt(ctx context.Context, level, round int, used []string) (string, error)
}

// ReprocessFunc rescores every audio-backed round of a session.
type ReprocessFunc func(ctx context.Context, sessionID int64) (int, error)

// SessionsHandler serves session lifecycle endpoints.
type SessionsHandler struct {
	store     Store
	prompts   PromptGenerator // nil falls back to the static prompt list
	reprocess ReprocessFunc
	rounds    int
	log       zerolog.Logger
}

func NewSessionsHandler(store Store, prompts PromptGenerator, reprocess ReprocessFunc, roundsPerSession int, log zerolog.Logger) *SessionsHandler {
	if roundsPerSession <= 0 {
		roundsPerSession = 10
	}
	return &SessionsHandler{
		store:     store,
		prompts:   prompts,
		reprocess: reprocess,
		rounds:    roundsPerSession,
		log:       log.With().Str("handler", "sessions").Logger(),
	}
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Get("/sessions/incomplete", h.Incomplete)
	r.Get("/sessions/{sessionID}/prompt", h.Prompt)
	r.Get("/sessions/{sessionID}/summary", h.Summary)
	r.Post("/sessions/{sessionID}/analyze", h.Analyze)
}

type createSessionRequest struct {
	LearnerID int64 `json:"learner_id"`
	Level     int   `json:"level"`
}

// Create handles POST /api/v1/sessions. A learner with a session already in
// progress gets the resume payload instead of a new session.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	if req.LearnerID <= 0 {
		WriteError(w, http.StatusBadRequest, "learner_id is required")
		return
	}
	if req.Level < 1 {
		req.Level = 1
	}

	sess, err := h.store.CreateSession(r.Context(), req.LearnerID, req.Level)
	if errors.Is(err, database.ErrActiveSessionExists) {
		inc, incErr := h.store.IncompleteSession(r.Context(), req.LearnerID)
		if incErr != nil {
			h.log.Error().Err(incErr).Int64("learner_id", req.LearnerID).Msg("load incomplete session failed")
			WriteError(w, http.StatusInternalServerError, "failed to load existing session")
			return
		}
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":              "incomplete_session",
			"incomplete_session": inc,
		})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("create session failed")
		WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	WriteJSON(w, http.StatusCreated, sess)
}

// Incomplete handles GET /api/v1/sessions/incomplete?learner_id=N.
func (h *SessionsHandler) Incomplete(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := QueryInt64(r, "learner_id")
	if !ok || learnerID <= 0 {
		WriteError(w, http.StatusBadRequest, "learner_id is required")
		return
	}

	inc, err := h.store.IncompleteSession(r.Context(), learnerID)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "no incomplete session")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("incomplete session lookup failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	WriteJSON(w, http.StatusOK, inc)
}

type promptResponse struct {
	Round     int    `json:"round"`
	Prompt    string `json:"prompt"`
	TimeLimit int    `json:"time_limit"`
}

// Prompt handles GET /api/v1/sessions/{sessionID}/prompt?round=N. The time
// limit scales with prompt length so longer sentences get more speaking time.
func (h *SessionsHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathInt64(r, "sessionID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("load session failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	used, err := h.store.SessionPrompts(r.Context(), sessionID)
	if err != nil {
		h.log.Warn().Err(err).Msg("used-prompt lookup failed")
	}

	round, ok := QueryInt(r, "round")
	if !ok || round < 1 {
		round = len(used) + 1
	}
	if round > h.rounds {
		WriteError(w, http.StatusBadRequest, "session has no more rounds")
		return
	}

	prompt := ""
	if h.prompts != nil {
		prompt, err = h.prompts.GeneratePrompt(r.Context(), sess.Level, round, used)
		if err != nil {
			h.log.Warn().Err(err).Msg("prompt generation failed, using fallback")
		}
	}
	if prompt == "" {
		prompt = grader.FallbackPrompt(round, used)
	}

	WriteJSON(w, http.StatusOK, promptResponse{
		Round:     round,
		Prompt:    prompt,
		TimeLimit: grader.TimeLimit(sess.Level, prompt),
	})
}

type summaryResponse struct {
	SessionID    int64             `json:"session_id"`
	Status       string            `json:"status"`
	TotalScore   *int              `json:"total_score,omitempty"`
	AverageScore *int              `json:"average_score,omitempty"`
	Summary      any               `json:"summary,omitempty"`
	Rounds       []summaryRoundRow `json:"rounds"`
}

type summaryRoundRow struct {
	RoundNumber  int      `json:"round_number"`
	Score        int      `json:"score"`
	Status       string   `json:"status"`
	MissingWords []string `json:"missing_words,omitempty"`
}

// Summary handles GET /api/v1/sessions/{sessionID}/summary.
func (h *SessionsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathInt64(r, "sessionID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("load session failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	rounds, err := h.store.SessionRounds(r.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Msg("load rounds failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := summaryResponse{
		SessionID:    sess.ID,
		Status:       sess.Status,
		TotalScore:   sess.TotalScore,
		AverageScore: sess.AverageScore,
		Rounds:       make([]summaryRoundRow, 0, len(rounds)),
	}
	if len(sess.Summary) > 0 {
		resp.Summary = sess.Summary
	}
	for _, rd := range rounds {
		row := summaryRoundRow{
			RoundNumber: rd.RoundNumber,
			Score:       rd.Score,
			Status:      rd.Status,
		}
		if len(rd.Analysis) > 0 {
			var a database.Analysis
			if err := json.Unmarshal(rd.Analysis, &a); err == nil {
				row.MissingWords = a.MissingWords
			}
		}
		resp.Rounds = append(resp.Rounds, row)
	}

	WriteJSON(w, http.StatusOK, resp)
}

// Analyze handles POST /api/v1/sessions/{sessionID}/analyze. Re-analysis runs
// in the background; the client polls the summary and round analyses.
func (h *SessionsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathInt64(r, "sessionID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if h.reprocess == nil {
		WriteError(w, http.StatusServiceUnavailable, "re-analysis not available")
		return
	}

	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.Error().Err(err).Msg("load session failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if n, err := h.reprocess(ctx, sessionID); err != nil {
			h.log.Error().Err(err).Int64("session_id", sessionID).Msg("bulk re-analysis failed")
		} else {
			h.log.Info().Int64("session_id", sessionID).Int("rounds", n).Msg("bulk re-analysis done")
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reprocessing"})
}
