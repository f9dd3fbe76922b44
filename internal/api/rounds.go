package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
	"github.com/speaklab/practice-engine/internal/storage"
	"github.com/speaklab/practice-engine/internal/worker"
)

const maxUploadBytes = 32 << 20

// Enqueuer buffers scoring jobs for the worker pool.
type Enqueuer interface {
	Enqueue(worker.Job) bool
}

// TranslationChecker gives a meaning-level verdict on a translation.
type TranslationChecker interface {
	CheckTranslation(ctx context.Context, englishText, translation string) (*grader.TranslationCheck, error)
}

// RoundsHandler serves round submission and per-round results.
type RoundsHandler struct {
	store      Store
	audio      storage.AudioStore
	queue      Enqueuer
	translator TranslationChecker // nil skips the AI verdict
	rounds     int
	log        zerolog.Logger
}

func NewRoundsHandler(store Store, audio storage.AudioStore, queue Enqueuer, translator TranslationChecker, roundsPerSession int, log zerolog.Logger) *RoundsHandler {
	if roundsPerSession <= 0 {
		roundsPerSession = 10
	}
	return &RoundsHandler{
		store:      store,
		audio:      audio,
		queue:      queue,
		translator: translator,
		rounds:     roundsPerSession,
		log:        log.With().Str("handler", "rounds").Logger(),
	}
}

func (h *RoundsHandler) Routes(r chi.Router) {
	r.Post("/sessions/{sessionID}/rounds", h.Save)
	r.Get("/sessions/{sessionID}/rounds/{roundID}/analysis", h.Analysis)
	r.Post("/sessions/{sessionID}/rounds/{roundID}/translation", h.Translation)
}

// Save handles POST /api/v1/sessions/{sessionID}/rounds. Multipart form:
// round_number and prompt required, audio file plus client_transcript,
// client_highlights and time_taken optional. The round is accepted
// immediately and scored asynchronously.
func (h *RoundsHandler) Save(w http.ResponseWriter, r *http.Request) {
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
	if sess.Status != "active" {
		WriteError(w, http.StatusConflict, "session already completed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	roundNumber, err := strconv.Atoi(r.FormValue("round_number"))
	if err != nil || roundNumber < 1 || roundNumber > h.rounds {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("round_number must be 1-%d", h.rounds))
		return
	}

	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		WriteError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var timeTaken *int
	if v := r.FormValue("time_taken"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "time_taken must be a non-negative integer")
			return
		}
		timeTaken = &n
	}

	var highlights []int
	if v := r.FormValue("client_highlights"); v != "" {
		if err := json.Unmarshal([]byte(v), &highlights); err != nil {
			WriteError(w, http.StatusBadRequest, "client_highlights must be a JSON array of integers")
			return
		}
	}
	clientTranscript := strings.TrimSpace(r.FormValue("client_transcript"))

	audioKey := ""
	if file, header, ferr := r.FormFile("audio"); ferr == nil {
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			WriteError(w, http.StatusBadRequest, "failed to read audio file")
			return
		}
		ext := filepath.Ext(header.Filename)
		if ext == "" {
			ext = ".webm"
		}
		audioKey = storage.Key(sess.LearnerID, time.Now(), fmt.Sprintf("s%d-r%d%s", sessionID, roundNumber, ext))
		if err := h.audio.Save(r.Context(), audioKey, data, header.Header.Get("Content-Type")); err != nil {
			h.log.Error().Err(err).Str("key", audioKey).Msg("audio save failed")
			WriteError(w, http.StatusInternalServerError, "failed to store audio")
			return
		}
	}

	roundID, err := h.store.UpsertRound(r.Context(), sessionID, roundNumber, prompt, audioKey, timeTaken)
	if err != nil {
		h.log.Error().Err(err).Msg("round upsert failed")
		WriteError(w, http.StatusInternalServerError, "failed to save round")
		return
	}

	ok := h.queue.Enqueue(worker.Job{
		RoundID:          roundID,
		SessionID:        sessionID,
		LearnerID:        sess.LearnerID,
		RoundNumber:      roundNumber,
		Level:            sess.Level,
		Prompt:           prompt,
		AudioKey:         audioKey,
		ClientTranscript: clientTranscript,
		ClientHighlights: highlights,
	})
	if !ok {
		// The round row stays in processing; bulk re-analysis can pick it up.
		h.log.Warn().Int64("round_id", roundID).Msg("scoring queue full")
		WriteError(w, http.StatusServiceUnavailable, "scoring queue full, retry shortly")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"round_id": roundID,
		"status":   "processing",
	})
}

// Analysis handles GET /api/v1/sessions/{sessionID}/rounds/{roundID}/analysis.
// Returns 202 while the round is still being scored.
func (h *RoundsHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathInt64(r, "sessionID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	roundID, err := PathInt64(r, "roundID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	round, err := h.store.GetRound(r.Context(), sessionID, roundID)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "round not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("load round failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if round.Status != "scored" {
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"round_id": round.ID,
			"status":   round.Status,
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"round_id":     round.ID,
		"round_number": round.RoundNumber,
		"status":       round.Status,
		"score":        round.Score,
		"analysis":     round.Analysis,
	})
}

type translationRequest struct {
	Translation string `json:"translation"`
}

type translationResponse struct {
	Saved    bool   `json:"saved"`
	Checked  bool   `json:"checked"`
	Correct  bool   `json:"correct,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Translation handles POST /api/v1/sessions/{sessionID}/rounds/{roundID}/translation.
// The translation is always saved; the AI verdict is best effort.
func (h *RoundsHandler) Translation(w http.ResponseWriter, r *http.Request) {
	sessionID, err := PathInt64(r, "sessionID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	roundID, err := PathInt64(r, "roundID")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	var req translationRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	req.Translation = strings.TrimSpace(req.Translation)
	if req.Translation == "" {
		WriteError(w, http.StatusBadRequest, "translation is required")
		return
	}

	round, err := h.store.GetRound(r.Context(), sessionID, roundID)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "round not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("load round failed")
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := h.store.SetRoundTranslation(r.Context(), sessionID, roundID, req.Translation); err != nil {
		h.log.Error().Err(err).Msg("save translation failed")
		WriteError(w, http.StatusInternalServerError, "failed to save translation")
		return
	}

	resp := translationResponse{Saved: true}
	if h.translator != nil {
		check, err := h.translator.CheckTranslation(r.Context(), round.Prompt, req.Translation)
		if err != nil {
			h.log.Warn().Err(err).Msg("translation check failed")
		} else {
			resp.Checked = true
			resp.Correct = check.Correct
			resp.Feedback = check.Feedback
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}
