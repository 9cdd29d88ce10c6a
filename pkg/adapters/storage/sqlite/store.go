package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/aescanero/evalpipe/pkg/domain"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Store implements ports.StatisticsSink on a SQLite database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func NewStore(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// one connection keeps ":memory:" a single database and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "statistics_store")),
	}, nil
}

// SaveStatistics stores one row per statistic of the batch
func (s *Store) SaveStatistics(ctx context.Context, groupID string, statistics domain.Statistics) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var quantile sql.NullFloat64
	if statistics.Quantile != nil {
		quantile = sql.NullFloat64{Float64: *statistics.Quantile, Valid: true}
	}

	for _, statistic := range statistics.Values {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO statistics (id, evaluation_id, group_id, pool_index, feature_group, time_window,
			 threshold, orientation, quantile, sample_size, name, value, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			statistics.ID, statistics.EvaluationID, groupID, statistics.PoolIndex, statistics.FeatureGroup,
			statistics.TimeWindow.String(), statistics.Threshold.String(), string(statistics.Orientation),
			quantile, statistics.SampleSize, statistic.Name, nullable(statistic.Value),
			statistics.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert statistic %s: %w", statistic.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit statistics: %w", err)
	}

	s.logger.Debug("statistics stored",
		zap.String("statistics_id", statistics.ID),
		zap.String("group_id", groupID),
		zap.Int("values", len(statistics.Values)))
	return nil
}

// Count returns the number of stored statistic values of an evaluation
func (s *Store) Count(ctx context.Context, evaluationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM statistics WHERE evaluation_id = ?`, evaluationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count statistics: %w", err)
	}
	return count, nil
}

// Value returns a stored nominal statistic, or false when it does not exist
func (s *Store) Value(ctx context.Context, evaluationID string, poolIndex int, name string) (float64, bool, error) {
	var value sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM statistics
		 WHERE evaluation_id = ? AND pool_index = ? AND name = ? AND quantile IS NULL
		 ORDER BY created_at LIMIT 1`,
		evaluationID, poolIndex, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read statistic: %w", err)
	}
	if !value.Valid {
		return math.NaN(), true, nil
	}
	return value.Float64, true, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// nullable stores NaN as NULL
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
