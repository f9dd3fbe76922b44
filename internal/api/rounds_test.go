package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
	"github.com/speaklab/practice-engine/internal/storage"
	"github.com/speaklab/practice-engine/internal/worker"
)

type mockQueue struct {
	jobs []worker.Job
	full bool
}

func (m *mockQueue) Enqueue(j worker.Job) bool {
	if m.full {
		return false
	}
	m.jobs = append(m.jobs, j)
	return true
}

type mockTranslator struct {
	check *grader.TranslationCheck
	err   error
}

func (m *mockTranslator) CheckTranslation(ctx context.Context, englishText, translation string) (*grader.TranslationCheck, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.check, nil
}

func roundsRouter(h *RoundsHandler) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func multipartBody(t *testing.T, fields map[string]string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "round.webm")
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		fw.Write(audio)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func newRoundsFixture(t *testing.T) (*mockAPIStore, *mockQueue, *RoundsHandler) {
	t.Helper()
	store := newMockAPIStore()
	store.sessions[3] = &database.Session{ID: 3, LearnerID: 7, Level: 2, Status: "active"}
	queue := &mockQueue{}
	audio := storage.NewLocalStore(t.TempDir())
	h := NewRoundsHandler(store, audio, queue, nil, 10, zerolog.Nop())
	return store, queue, h
}

func TestSaveRound(t *testing.T) {
	store, queue, h := newRoundsFixture(t)

	body, ct := multipartBody(t, map[string]string{
		"round_number":      "1",
		"prompt":            "I like to learn English every day",
		"time_taken":        "18",
		"client_transcript": "I like to learn English",
		"client_highlights": "[0,1,2,3,4]",
	}, []byte("fake-audio"))

	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body)
	}
	var resp struct {
		RoundID int64  `json:"round_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "processing" {
		t.Errorf("status = %q, want processing", resp.Status)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("upserted rounds = %d, want 1", len(store.upserted))
	}

	if len(queue.jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.SessionID != 3 || job.LearnerID != 7 || job.RoundNumber != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.ClientTranscript != "I like to learn English" {
		t.Errorf("client transcript = %q", job.ClientTranscript)
	}
	if len(job.ClientHighlights) != 5 {
		t.Errorf("highlights = %v", job.ClientHighlights)
	}
	if job.AudioKey == "" || !strings.Contains(job.AudioKey, "7/") {
		t.Errorf("audio key = %q", job.AudioKey)
	}
}

func TestSaveRoundMissingPrompt(t *testing.T) {
	_, _, h := newRoundsFixture(t)

	body, ct := multipartBody(t, map[string]string{"round_number": "1", "prompt": "   "}, nil)
	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSaveRoundBadRoundNumber(t *testing.T) {
	_, _, h := newRoundsFixture(t)

	for _, n := range []string{"0", "11", "x", ""} {
		body, ct := multipartBody(t, map[string]string{"round_number": n, "prompt": "hello"}, nil)
		req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		roundsRouter(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("round_number=%q: status = %d, want 400", n, rec.Code)
		}
	}
}

func TestSaveRoundQueueFull(t *testing.T) {
	_, queue, h := newRoundsFixture(t)
	queue.full = true

	body, ct := multipartBody(t, map[string]string{"round_number": "1", "prompt": "hello"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestSaveRoundCompletedSession(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.sessions[3].Status = "completed"

	body, ct := multipartBody(t, map[string]string{"round_number": "1", "prompt": "hello"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestAnalysisPending(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.rounds[55] = &database.Round{ID: 55, SessionID: 3, Status: "processing"}

	req := httptest.NewRequest(http.MethodGet, "/sessions/3/rounds/55/analysis", nil)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestAnalysisScored(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.rounds[55] = &database.Round{
		ID: 55, SessionID: 3, RoundNumber: 2, Score: 71, Status: "scored",
		Analysis: json.RawMessage(`{"score":71,"missing_words":["to","every"]}`),
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/3/rounds/55/analysis", nil)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Score    int               `json:"score"`
		Analysis database.Analysis `json:"analysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Score != 71 || len(resp.Analysis.MissingWords) != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnalysisWrongSession(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.rounds[55] = &database.Round{ID: 55, SessionID: 99, Status: "scored"}

	req := httptest.NewRequest(http.MethodGet, "/sessions/3/rounds/55/analysis", nil)
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTranslationSavedAndChecked(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.rounds[55] = &database.Round{ID: 55, SessionID: 3, Prompt: "I like tea", Status: "scored"}
	h.translator = &mockTranslator{check: &grader.TranslationCheck{Correct: true, Feedback: "good"}}

	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds/55/translation",
		strings.NewReader(`{"translation": "Me gusta el té"}`))
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var resp translationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Saved || !resp.Checked || !resp.Correct {
		t.Errorf("resp = %+v", resp)
	}
	if store.translations[55] != "Me gusta el té" {
		t.Errorf("stored translation = %q", store.translations[55])
	}
}

func TestTranslationSavedWhenCheckerFails(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.rounds[55] = &database.Round{ID: 55, SessionID: 3, Prompt: "I like tea", Status: "scored"}
	h.translator = &mockTranslator{err: context.DeadlineExceeded}

	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds/55/translation",
		strings.NewReader(`{"translation": "Me gusta el té"}`))
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp translationResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Saved || resp.Checked {
		t.Errorf("resp = %+v", resp)
	}
	if store.translations[55] == "" {
		t.Error("translation should be saved even when the check fails")
	}
}

func TestTranslationMissingBody(t *testing.T) {
	store, _, h := newRoundsFixture(t)
	store.rounds[55] = &database.Round{ID: 55, SessionID: 3, Status: "scored"}

	req := httptest.NewRequest(http.MethodPost, "/sessions/3/rounds/55/translation",
		strings.NewReader(`{"translation": "  "}`))
	rec := httptest.NewRecorder()
	roundsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
