package grader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockTrainingStore struct {
	mu      sync.Mutex
	samples map[string]bool // taskType/hash
	count   int
	runs    chan string
}

func newMockTrainingStore() *mockTrainingStore {
	return &mockTrainingStore{samples: make(map[string]bool), runs: make(chan string, 4)}
}

func (m *mockTrainingStore) SaveSample(ctx context.Context, taskType, inputHash string, input, output []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := taskType + "/" + inputHash
	if m.samples[key] {
		return false, nil
	}
	m.samples[key] = true
	m.count++
	return true, nil
}

func (m *mockTrainingStore) CountSamplesSinceLastRun(ctx context.Context, taskType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, nil
}

func (m *mockTrainingStore) RecordRun(ctx context.Context, taskType string, samples int) error {
	m.runs <- taskType
	return nil
}

func TestRecorderDeduplicates(t *testing.T) {
	store := newMockTrainingStore()
	rec, err := NewRecorder(store, 100, "", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := rec.save(context.Background(), TaskSpeakingPractice, "same input", "output"); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.count != 1 {
		t.Errorf("stored samples = %d, want 1 (identical inputs de-duplicated)", store.count)
	}
}

func TestRecorderTriggersRetrainAtThreshold(t *testing.T) {
	store := newMockTrainingStore()
	rec, err := NewRecorder(store, 3, "/bin/sh -c true", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	inputs := []string{"one", "two", "three"}
	for _, in := range inputs {
		if err := rec.save(context.Background(), TaskSpeakingPractice, in, "out"); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	select {
	case task := <-store.runs:
		if task != TaskSpeakingPractice {
			t.Errorf("run task = %q", task)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retrain run was not recorded")
	}
}

func TestRecorderNoRetrainBelowThreshold(t *testing.T) {
	store := newMockTrainingStore()
	rec, err := NewRecorder(store, 10, "/bin/sh -c true", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := rec.save(context.Background(), TaskTranslationCheck, "input", "out"); err != nil {
		t.Fatalf("save: %v", err)
	}

	select {
	case <-store.runs:
		t.Fatal("retrain triggered below threshold")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFallbackPromptSkipsUsed(t *testing.T) {
	used := []string{fallbackPrompts[0]}
	got := FallbackPrompt(1, used)
	if got == fallbackPrompts[0] {
		t.Error("FallbackPrompt returned an already-used prompt")
	}
}

func TestTimeLimit(t *testing.T) {
	if got := TimeLimit(1, "one two three"); got != 18 {
		t.Errorf("TimeLimit = %d, want 18", got)
	}
	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	if got := TimeLimit(1, long); got != 60 {
		t.Errorf("TimeLimit cap = %d, want 60", got)
	}
}
