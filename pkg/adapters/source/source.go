// Package source reads pairs from a CSV file and computes the pools of an
// evaluation from them.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/samber/lo"
)

// ErrMissingColumn is returned when the header lacks a required column
var ErrMissingColumn = errors.New("missing column")

var required = []string{"feature", "valid_time", "left", "right"}

type row struct {
	pair     domain.Pair
	baseline float64
}

// Source holds the pairs of a CSV file. It is read-only after Load.
type Source struct {
	rows        []row
	hasBaseline bool
}

// Load reads a CSV file with the columns feature, valid_time (RFC 3339), left
// and right, and an optional baseline column holding the baseline prediction
func Load(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewUserInputError(fmt.Sprintf("cannot open pairs source %s", path), err)
	}
	defer f.Close()

	s, err := Read(f)
	if err != nil {
		return nil, domain.NewUserInputError(fmt.Sprintf("cannot read pairs source %s", path), err)
	}
	return s, nil
}

// Read parses pairs from r
func Read(r io.Reader) (*Source, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	head, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make(map[string]int, len(head))
	for i, name := range head {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}
	baselineColumn, hasBaseline := columns["baseline"]

	s := &Source{hasBaseline: hasBaseline}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		validTime, err := time.Parse(time.RFC3339, record[columns["valid_time"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid valid_time: %w", line, err)
		}
		left, err := parseValue(record[columns["left"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid left value: %w", line, err)
		}
		right, err := parseValue(record[columns["right"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid right value: %w", line, err)
		}
		baseline := math.NaN()
		if hasBaseline {
			if baseline, err = parseValue(record[baselineColumn]); err != nil {
				return nil, fmt.Errorf("line %d: invalid baseline value: %w", line, err)
			}
		}

		s.rows = append(s.rows, row{
			pair: domain.Pair{
				Feature:   record[columns["feature"]],
				ValidTime: validTime.UTC(),
				Left:      left,
				Right:     right,
			},
			baseline: baseline,
		})
	}

	return s, nil
}

// Len returns the number of pairs read
func (s *Source) Len() int {
	return len(s.rows)
}

// HasBaseline reports whether the file carries a baseline column
func (s *Source) HasBaseline() bool {
	return s.hasBaseline
}

// Features returns the distinct features of the file in order of appearance
func (s *Source) Features() []string {
	return lo.Uniq(lo.Map(s.rows, func(r row, _ int) string { return r.pair.Feature }))
}

// Compute returns the pairs that belong to the feature group and time window
// of the request. It satisfies ports.PoolComputer.
func (s *Source) Compute(ctx context.Context, request domain.PoolRequest) (domain.PoolData, error) {
	if err := ctx.Err(); err != nil {
		return domain.PoolData{}, err
	}

	selected := lo.Filter(s.rows, func(r row, _ int) bool {
		return request.FeatureGroup.Contains(r.pair.Feature) && request.TimeWindow.Contains(r.pair.ValidTime)
	})

	data := domain.PoolData{
		Request: request,
		Pairs:   lo.Map(selected, func(r row, _ int) domain.Pair { return r.pair }),
	}
	if request.HasBaseline && s.hasBaseline {
		data.Baseline = lo.FilterMap(selected, func(r row, _ int) (domain.Pair, bool) {
			if math.IsNaN(r.baseline) {
				return domain.Pair{}, false
			}
			pair := r.pair
			pair.Right = r.baseline
			return pair, true
		})
	}
	return data, nil
}

// parseValue reads a number; an empty cell is missing and reads as NaN
func parseValue(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
