package grader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"
)

// TrainingStore persists de-duplicated grading exchanges for the secondary
// fine-tuned grader.
type TrainingStore interface {
	// SaveSample inserts a sample keyed by (taskType, inputHash); returns
	// false when the key already existed.
	SaveSample(ctx context.Context, taskType, inputHash string, input, output []byte) (bool, error)
	// CountSamplesSinceLastRun counts samples newer than the task's last
	// recorded training run.
	CountSamplesSinceLastRun(ctx context.Context, taskType string) (int, error)
	// RecordRun marks a completed training run.
	RecordRun(ctx context.Context, taskType string, samples int) error
}

// Recorder captures successful model exchanges as training data and kicks
// off retraining once a task crosses the sample threshold. Both paths are
// fire-and-forget: the calling request never waits on them.
type Recorder struct {
	store     TrainingStore
	threshold int
	trainCmd  []string
	log       zerolog.Logger

	mu       sync.Mutex
	training map[string]bool // task types with a retrain in flight
}

// NewRecorder creates a training recorder. An empty trainCommand disables
// retraining (samples are still captured).
func NewRecorder(store TrainingStore, threshold int, trainCommand string, log zerolog.Logger) (*Recorder, error) {
	var cmd []string
	if trainCommand != "" {
		parsed, err := shellwords.Parse(trainCommand)
		if err != nil {
			return nil, err
		}
		cmd = parsed
	}
	if threshold <= 0 {
		threshold = 10
	}
	return &Recorder{
		store:     store,
		threshold: threshold,
		trainCmd:  cmd,
		log:       log.With().Str("component", "training").Logger(),
		training:  make(map[string]bool),
	}, nil
}

// Record saves the exchange in the background. Failures are logged and
// swallowed so they cannot affect the grading response path.
func (r *Recorder) Record(taskType, input, output string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.save(ctx, taskType, input, output); err != nil {
			r.log.Warn().Err(err).Str("task_type", taskType).Msg("failed to save training sample")
		}
	}()
}

func (r *Recorder) save(ctx context.Context, taskType, input, output string) error {
	inputJSON, err := json.Marshal(map[string]string{"message": input})
	if err != nil {
		return err
	}
	outputJSON, err := json.Marshal(map[string]string{"response": output})
	if err != nil {
		return err
	}

	sum := md5.Sum(inputJSON)
	inserted, err := r.store.SaveSample(ctx, taskType, hex.EncodeToString(sum[:]), inputJSON, outputJSON)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	count, err := r.store.CountSamplesSinceLastRun(ctx, taskType)
	if err != nil {
		return err
	}
	if count >= r.threshold {
		r.triggerRetrain(taskType, count)
	}
	return nil
}

// triggerRetrain starts the retraining subprocess unless one is already
// running for this task type.
func (r *Recorder) triggerRetrain(taskType string, samples int) {
	if len(r.trainCmd) == 0 {
		return
	}

	r.mu.Lock()
	if r.training[taskType] {
		r.mu.Unlock()
		return
	}
	r.training[taskType] = true
	r.mu.Unlock()

	r.log.Info().Str("task_type", taskType).Int("samples", samples).Msg("sample threshold reached, starting retrain")

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.training, taskType)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		args := append(append([]string{}, r.trainCmd[1:]...), "train", taskType)
		out, err := exec.CommandContext(ctx, r.trainCmd[0], args...).CombinedOutput()
		if err != nil {
			r.log.Error().Err(err).Str("task_type", taskType).Str("output", string(out)).Msg("retrain failed")
			return
		}

		if err := r.store.RecordRun(ctx, taskType, samples); err != nil {
			r.log.Warn().Err(err).Str("task_type", taskType).Msg("failed to record training run")
			return
		}
		r.log.Info().Str("task_type", taskType).Int("samples", samples).Msg("retrain complete")
	}()
}
