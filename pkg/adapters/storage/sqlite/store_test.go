package sqlite_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aescanero/evalpipe/pkg/adapters/storage/sqlite"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/maxatome/go-testdeep/td"
	"go.uber.org/zap"
)

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", zap.NewNop())
	td.Require(t).CmpNoError(err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleStatistics(id string, poolIndex int) domain.Statistics {
	return domain.Statistics{
		ID:           id,
		EvaluationID: "evaluation-1",
		PoolIndex:    poolIndex,
		FeatureGroup: "A",
		Threshold:    domain.AllData(),
		Orientation:  domain.OrientationMain,
		SampleSize:   3,
		Values: []domain.Statistic{
			{Name: "mean_error", Value: 1},
			{Name: "pearson_correlation", Value: math.NaN()},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveStatistics(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := testStore(t)

	// Act
	td.Require(t).CmpNoError(store.SaveStatistics(ctx, "A", sampleStatistics("s1", 0)))
	td.Require(t).CmpNoError(store.SaveStatistics(ctx, "A", sampleStatistics("s2", 1)))

	// Assert
	count, err := store.Count(ctx, "evaluation-1")
	td.CmpNoError(t, err)
	td.Cmp(t, count, 4)

	value, ok, err := store.Value(ctx, "evaluation-1", 1, "mean_error")
	td.CmpNoError(t, err)
	td.CmpTrue(t, ok)
	td.Cmp(t, value, 1.0)

	value, ok, err = store.Value(ctx, "evaluation-1", 0, "pearson_correlation")
	td.CmpNoError(t, err)
	td.CmpTrue(t, ok)
	td.CmpTrue(t, math.IsNaN(value))
}

func TestSaveStatisticsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	td.Require(t).CmpNoError(store.SaveStatistics(ctx, "A", sampleStatistics("s1", 0)))
	td.Require(t).CmpNoError(store.SaveStatistics(ctx, "A", sampleStatistics("s1", 0)))

	count, err := store.Count(ctx, "evaluation-1")
	td.CmpNoError(t, err)
	td.Cmp(t, count, 2)
}

func TestValueNotFound(t *testing.T) {
	store := testStore(t)

	_, ok, err := store.Value(context.Background(), "evaluation-1", 7, "mean_error")

	td.CmpNoError(t, err)
	td.CmpFalse(t, ok)
}
