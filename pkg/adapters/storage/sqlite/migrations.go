package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the statistics tables. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS statistics (
		id             TEXT NOT NULL,
		evaluation_id  TEXT NOT NULL,
		group_id       TEXT NOT NULL,
		pool_index     INTEGER NOT NULL,
		feature_group  TEXT NOT NULL,
		time_window    TEXT NOT NULL,
		threshold      TEXT NOT NULL,
		orientation    TEXT NOT NULL,
		quantile       REAL,
		sample_size    INTEGER NOT NULL,
		name           TEXT NOT NULL,
		value          REAL,
		created_at     TEXT NOT NULL,
		PRIMARY KEY (id, name)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_statistics_evaluation ON statistics(evaluation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_statistics_group ON statistics(evaluation_id, group_id)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate statistics schema: %w", err)
		}
	}
	return nil
}
