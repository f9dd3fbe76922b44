package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/config"
)

// AudioStore abstracts where uploaded recordings live.
type AudioStore interface {
	// Save stores audio data. key format: {learner_id}/{YYYY-MM-DD}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the recording, or "" for local-only
	// backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the recording.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether the recording exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Key builds the canonical object key for a learner's upload.
func Key(learnerID int64, at time.Time, filename string) string {
	return path.Join(fmt.Sprintf("%d", learnerID), at.UTC().Format("2006-01-02"), filename)
}

// New creates an AudioStore from config. Local-only when no bucket is set,
// otherwise local primary with S3 backup. Fails fast when S3 is configured
// but unreachable.
func New(cfg *config.Config, log zerolog.Logger) (AudioStore, error) {
	local := NewLocalStore(cfg.AudioDir)
	if !cfg.S3Enabled() {
		return local, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("s3 init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("s3 startup check (bucket=%q endpoint=%q): %w",
			cfg.S3Bucket, cfg.S3Endpoint, err)
	}
	log.Info().Str("bucket", cfg.S3Bucket).Str("endpoint", cfg.S3Endpoint).Msg("s3 connection verified")

	return NewTieredStore(s3store, local, log), nil
}
