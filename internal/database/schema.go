package database

import (
	"context"
	"fmt"

	practiceengine "github.com/speaklab/practice-engine"
)

// InitSchema applies the embedded schema when the core tables are missing.
// All statements use IF NOT EXISTS, so a partial earlier run is safe.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'practice_sessions'
		)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	if exists {
		db.log.Debug().Msg("schema already present")
		return db.Migrate(ctx)
	}

	db.log.Info().Msg("initializing database schema")
	if _, err := db.Pool.Exec(ctx, string(practiceengine.SchemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
