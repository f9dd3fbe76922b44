package database

import (
	"context"
	"fmt"
)

type migration struct {
	name  string
	check string
	apply string
}

// Migrations for databases created before the embedded schema gained these
// columns. Each check query returns a row only when the migration is still
// needed, so re-running the list is harmless.
var migrations = []migration{
	{
		name: "rounds_translation_column",
		check: `SELECT 1 FROM information_schema.columns
			WHERE table_name = 'practice_rounds' AND column_name = 'translation'
			HAVING count(*) = 0`,
		apply: `ALTER TABLE practice_rounds ADD COLUMN IF NOT EXISTS translation TEXT`,
	},
	{
		name: "rounds_time_taken_column",
		check: `SELECT 1 FROM information_schema.columns
			WHERE table_name = 'practice_rounds' AND column_name = 'time_taken'
			HAVING count(*) = 0`,
		apply: `ALTER TABLE practice_rounds ADD COLUMN IF NOT EXISTS time_taken INTEGER`,
	},
	{
		name: "history_duration_column",
		check: `SELECT 1 FROM information_schema.columns
			WHERE table_name = 'practice_history' AND column_name = 'duration_minutes'
			HAVING count(*) = 0`,
		apply: `ALTER TABLE practice_history ADD COLUMN IF NOT EXISTS duration_minutes INTEGER NOT NULL DEFAULT 0`,
	},
	{
		name: "sessions_active_unique_index",
		check: `SELECT 1 WHERE NOT EXISTS (
			SELECT 1 FROM pg_indexes WHERE indexname = 'uq_sessions_active_learner')`,
		apply: `CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_active_learner
			ON practice_sessions (learner_id) WHERE status = 'active'`,
	},
}

func (db *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		rows, err := db.Pool.Query(ctx, m.check)
		if err != nil {
			return fmt.Errorf("migration %s check: %w", m.name, err)
		}
		needed := rows.Next()
		rows.Close()
		if !needed {
			continue
		}

		db.log.Info().Str("migration", m.name).Msg("applying migration")
		if _, err := db.Pool.Exec(ctx, m.apply); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}
