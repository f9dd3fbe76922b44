package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/grader"
)

type mockStore struct {
	session   *database.Session
	rounds    []database.Round
	completed bool
	updated   bool
	total     int
	average   int
	summary   json.RawMessage
	won       bool
	history   []database.HistoryEntry
}

func (m *mockStore) GetSession(ctx context.Context, id int64) (*database.Session, error) {
	if m.session == nil {
		return nil, database.ErrNotFound
	}
	return m.session, nil
}

func (m *mockStore) SessionRounds(ctx context.Context, sessionID int64) ([]database.Round, error) {
	return m.rounds, nil
}

func (m *mockStore) CompleteSession(ctx context.Context, id int64, total, average int, summary json.RawMessage) (bool, error) {
	m.completed = true
	m.total = total
	m.average = average
	m.summary = summary
	return m.won, nil
}

func (m *mockStore) UpdateSessionResults(ctx context.Context, id int64, total, average int, summary json.RawMessage) error {
	m.updated = true
	m.total = total
	m.average = average
	m.summary = summary
	return nil
}

func (m *mockStore) UpsertHistory(ctx context.Context, e *database.HistoryEntry) error {
	m.history = append(m.history, *e)
	return nil
}

type mockSummarizer struct {
	summary *grader.SessionSummary
	err     error
	scores  []int
}

func (m *mockSummarizer) Summarize(ctx context.Context, scores []int, average int) (*grader.SessionSummary, error) {
	m.scores = scores
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

func scoredRounds(scores ...int) []database.Round {
	out := make([]database.Round, len(scores))
	for i, s := range scores {
		out[i] = database.Round{ID: int64(i + 1), RoundNumber: i + 1, Score: s, Status: "scored"}
	}
	return out
}

func TestFinalizeTotalsAndHistory(t *testing.T) {
	store := &mockStore{
		session: &database.Session{
			ID: 3, LearnerID: 7, Level: 2, Status: "active",
			CreatedAt: time.Now().Add(-12 * time.Minute),
		},
		rounds: scoredRounds(80, 90, 70, 60, 100, 85, 75, 95, 65, 55),
		won:    true,
	}
	sum := &mockSummarizer{summary: &grader.SessionSummary{OverallFeedback: "solid"}}

	agg := NewAggregator(store, sum, 10, zerolog.Nop())
	agg.Finalize(context.Background(), 3)

	if !store.completed {
		t.Fatal("session not completed")
	}
	if store.total != 775 {
		t.Errorf("total = %d, want 775", store.total)
	}
	if store.average != 78 { // round(775/10)
		t.Errorf("average = %d, want 78", store.average)
	}
	if len(sum.scores) != 10 {
		t.Errorf("summarizer got %d scores, want 10", len(sum.scores))
	}

	if len(store.history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(store.history))
	}
	h := store.history[0]
	if h.LearnerID != 7 || h.AverageScore != 78 || h.TotalScore != 775 {
		t.Errorf("unexpected history entry %+v", h)
	}
	if h.DurationMinutes != 12 {
		t.Errorf("duration = %d, want 12", h.DurationMinutes)
	}
	var s grader.SessionSummary
	if err := json.Unmarshal(store.summary, &s); err != nil || s.OverallFeedback != "solid" {
		t.Errorf("stored summary = %s", store.summary)
	}
}

func TestFinalizeAlwaysDividesByRoundCount(t *testing.T) {
	// Only 4 rounds scored: the average still divides by 10.
	store := &mockStore{
		session: &database.Session{ID: 3, LearnerID: 7, Status: "active", CreatedAt: time.Now()},
		rounds:  scoredRounds(100, 100, 100, 100),
		won:     true,
	}
	agg := NewAggregator(store, nil, 10, zerolog.Nop())
	agg.Finalize(context.Background(), 3)

	if store.average != 40 {
		t.Errorf("average = %d, want 40", store.average)
	}
}

func TestFinalizeSummaryFallback(t *testing.T) {
	store := &mockStore{
		session: &database.Session{ID: 3, Status: "active", CreatedAt: time.Now()},
		rounds:  scoredRounds(50),
		won:     true,
	}
	sum := &mockSummarizer{err: errors.New("llm down")}

	agg := NewAggregator(store, sum, 10, zerolog.Nop())
	agg.Finalize(context.Background(), 3)

	var s grader.SessionSummary
	if err := json.Unmarshal(store.summary, &s); err != nil {
		t.Fatalf("summary not stored: %v", err)
	}
	if s.OverallFeedback != grader.FallbackSummary().OverallFeedback {
		t.Errorf("expected fallback summary, got %+v", s)
	}
}

func TestFinalizeSkipsCompletedSession(t *testing.T) {
	store := &mockStore{
		session: &database.Session{ID: 3, Status: "completed", CreatedAt: time.Now()},
	}
	agg := NewAggregator(store, nil, 10, zerolog.Nop())
	agg.Finalize(context.Background(), 3)

	if store.completed {
		t.Error("completed session should not be re-finalized")
	}
}

func TestRefreshRecomputesCompletedSession(t *testing.T) {
	completedAt := time.Now().Add(-2 * time.Hour)
	store := &mockStore{
		session: &database.Session{
			ID: 3, LearnerID: 7, Level: 2, Status: "completed",
			CreatedAt:   completedAt.Add(-15 * time.Minute),
			CompletedAt: &completedAt,
		},
		rounds: scoredRounds(100, 100, 100, 100),
	}
	agg := NewAggregator(store, nil, 10, zerolog.Nop())
	agg.Refresh(context.Background(), 3)

	if store.completed {
		t.Error("refresh must not re-run the completion transition")
	}
	if !store.updated {
		t.Fatal("completed session results not updated")
	}
	if store.total != 400 || store.average != 40 {
		t.Errorf("total/average = %d/%d, want 400/40", store.total, store.average)
	}
	if len(store.history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(store.history))
	}
	h := store.history[0]
	if !h.CompletedAt.Equal(completedAt) {
		t.Errorf("history day keyed on %v, want original completion %v", h.CompletedAt, completedAt)
	}
	if h.DurationMinutes != 15 {
		t.Errorf("duration = %d, want 15", h.DurationMinutes)
	}
}

func TestRefreshCompletesActiveSession(t *testing.T) {
	// An explicit re-analysis of a partial session still produces a summary
	// and a history row, even with fewer scored rounds than a full session.
	store := &mockStore{
		session: &database.Session{ID: 3, LearnerID: 7, Status: "active", CreatedAt: time.Now()},
		rounds:  scoredRounds(80, 90, 70, 60),
		won:     true,
	}
	agg := NewAggregator(store, nil, 10, zerolog.Nop())
	agg.Refresh(context.Background(), 3)

	if !store.completed {
		t.Fatal("active session not completed on explicit refresh")
	}
	if store.total != 300 || store.average != 30 {
		t.Errorf("total/average = %d/%d, want 300/30", store.total, store.average)
	}
	if len(store.history) != 1 {
		t.Errorf("history entries = %d, want 1", len(store.history))
	}
}

func TestFinalizeLostRaceSkipsHistory(t *testing.T) {
	store := &mockStore{
		session: &database.Session{ID: 3, Status: "active", CreatedAt: time.Now()},
		rounds:  scoredRounds(50),
		won:     false,
	}
	agg := NewAggregator(store, nil, 10, zerolog.Nop())
	agg.Finalize(context.Background(), 3)

	if len(store.history) != 0 {
		t.Error("loser of the completion race must not write history")
	}
}
