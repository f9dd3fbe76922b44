package database

import "context"

// SaveSample stores one training sample, returning false when a sample with the
// same task type and input hash already exists.
func (db *DB) SaveSample(ctx context.Context, taskType, inputHash string, input, output []byte) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO ai_training_samples (task_type, input_hash, input_data, expected_output)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_type, input_hash) DO NOTHING`,
		taskType, inputHash, input, output)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountSamplesSinceLastRun counts samples for a task collected after the most
// recent training run, or all samples if the task was never trained.
func (db *DB) CountSamplesSinceLastRun(ctx context.Context, taskType string) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM ai_training_samples s
		WHERE s.task_type = $1
		  AND s.created_at > COALESCE(
			(SELECT max(trained_at) FROM ai_training_runs r WHERE r.task_type = $1),
			'epoch'::timestamptz)`,
		taskType).Scan(&n)
	return n, err
}

func (db *DB) RecordRun(ctx context.Context, taskType string, sampleCount int) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO ai_training_runs (task_type, samples)
		VALUES ($1, $2)`,
		taskType, sampleCount)
	return err
}
