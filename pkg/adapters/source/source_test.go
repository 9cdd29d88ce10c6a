package source_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/evalpipe/pkg/adapters/source"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/maxatome/go-testdeep/td"
)

const sample = `feature,valid_time,left,right,baseline
f1,2024-01-01T06:00:00Z,1,2,1.5
f1,2024-01-02T06:00:00Z,3,4,
f2,2024-01-01T12:00:00Z,5,6,5.5
f3,2024-01-01T12:00:00Z,7,8,7.5
`

func window(day int) domain.TimeWindow {
	return domain.TimeWindow{
		Earliest: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Latest:   time.Date(2024, 1, day+1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCompute(t *testing.T) {
	// Arrange
	s, err := source.Read(strings.NewReader(sample))
	td.Require(t).CmpNoError(err)
	request := domain.PoolRequest{
		FeatureGroup: domain.FeatureGroup{Name: "G", Features: []string{"f1", "f2"}},
		TimeWindow:   window(1),
		HasBaseline:  true,
	}

	// Act
	data, err := s.Compute(context.Background(), request)

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, data.Pairs, []domain.Pair{
		{Feature: "f1", ValidTime: time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), Left: 1, Right: 2},
		{Feature: "f2", ValidTime: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), Left: 5, Right: 6},
	})
	td.Cmp(t, data.Baseline, []domain.Pair{
		{Feature: "f1", ValidTime: time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), Left: 1, Right: 1.5},
		{Feature: "f2", ValidTime: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), Left: 5, Right: 5.5},
	})
	td.Cmp(t, s.Features(), []string{"f1", "f2", "f3"})
	td.Cmp(t, s.Len(), 4)
	td.CmpTrue(t, s.HasBaseline())
}

func TestComputeMissingBaselineValue(t *testing.T) {
	s, err := source.Read(strings.NewReader(sample))
	td.Require(t).CmpNoError(err)

	data, err := s.Compute(context.Background(), domain.PoolRequest{
		FeatureGroup: domain.FeatureGroup{Name: "f1", Features: []string{"f1"}},
		TimeWindow:   window(2),
		HasBaseline:  true,
	})

	td.CmpNoError(t, err)
	td.Cmp(t, data.Pairs, td.Len(1))
	td.Cmp(t, data.Baseline, td.Len(0))
}

func TestComputeEmptyWindow(t *testing.T) {
	s, err := source.Read(strings.NewReader(sample))
	td.Require(t).CmpNoError(err)

	data, err := s.Compute(context.Background(), domain.PoolRequest{
		FeatureGroup: domain.FeatureGroup{Name: "f1", Features: []string{"f1"}},
		TimeWindow:   window(20),
	})

	td.CmpNoError(t, err)
	td.CmpTrue(t, data.IsEmpty())
}

func TestRead(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "missing column", input: "feature,valid_time,left\n", wantErr: `missing column "right"`},
		{name: "bad time", input: "feature,valid_time,left,right\nf1,yesterday,1,2\n", wantErr: "line 2: invalid valid_time"},
		{name: "bad value", input: "feature,valid_time,left,right\nf1,2024-01-01T00:00:00Z,x,2\n", wantErr: "line 2: invalid left value"},
		{name: "empty", input: "", wantErr: "failed to read header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.Read(strings.NewReader(tt.input))
			td.CmpContains(t, err, tt.wantErr)
		})
	}
}

func TestReadMissingLeftIsNaN(t *testing.T) {
	s, err := source.Read(strings.NewReader("feature,valid_time,left,right\nf1,2024-01-01T06:00:00Z,,2\n"))
	td.Require(t).CmpNoError(err)

	data, err := s.Compute(context.Background(), domain.PoolRequest{
		FeatureGroup: domain.FeatureGroup{Name: "f1", Features: []string{"f1"}},
		TimeWindow:   window(1),
	})
	td.Require(t).CmpNoError(err)
	td.CmpTrue(t, math.IsNaN(data.Pairs[0].Left))
	td.CmpFalse(t, s.HasBaseline())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.csv")
	td.Require(t).CmpNoError(os.WriteFile(path, []byte(sample), 0o600))

	s, err := source.Load(path)
	td.CmpNoError(t, err)
	td.Cmp(t, s.Len(), 4)

	_, err = source.Load(filepath.Join(t.TempDir(), "missing.csv"))
	td.CmpTrue(t, domain.IsUserInput(err))
	td.CmpTrue(t, errors.Is(err, os.ErrNotExist))
}
