// Package statistics provides the built-in single-valued statistics
// calculators. Pairs with a missing left or right value are ignored.
package statistics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/samber/lo"
)

const (
	SampleSize          = "sample_size"
	MeanError           = "mean_error"
	MeanAbsoluteError   = "mean_absolute_error"
	RootMeanSquareError = "root_mean_square_error"
	PearsonCorrelation  = "pearson_correlation"
)

// Calculator is a statistics calculator defined by a function of the
// complete pairs of a pool
type Calculator struct {
	name string
	fn   func(pairs []domain.Pair) float64
}

// Name returns the statistic name
func (c Calculator) Name() string {
	return c.name
}

// Calculate returns one statistic, or an empty batch when the pool has no
// complete pairs
func (c Calculator) Calculate(ctx context.Context, pool domain.PoolData) (domain.StatisticsBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pairs := complete(pool.Pairs)
	if len(pairs) == 0 {
		return domain.StatisticsBatch{}, nil
	}
	return domain.StatisticsBatch{{Name: c.name, Value: c.fn(pairs)}}, nil
}

var registry = map[string]Calculator{
	SampleSize: {name: SampleSize, fn: func(pairs []domain.Pair) float64 {
		return float64(len(pairs))
	}},
	MeanError: {name: MeanError, fn: func(pairs []domain.Pair) float64 {
		return mean(pairs, func(p domain.Pair) float64 { return p.Right - p.Left })
	}},
	MeanAbsoluteError: {name: MeanAbsoluteError, fn: func(pairs []domain.Pair) float64 {
		return mean(pairs, func(p domain.Pair) float64 { return math.Abs(p.Right - p.Left) })
	}},
	RootMeanSquareError: {name: RootMeanSquareError, fn: func(pairs []domain.Pair) float64 {
		return math.Sqrt(mean(pairs, func(p domain.Pair) float64 { return (p.Right - p.Left) * (p.Right - p.Left) }))
	}},
	PearsonCorrelation: {name: PearsonCorrelation, fn: pearson},
}

// Names returns the names of the built-in calculators, sorted
func Names() []string {
	names := lo.Keys(registry)
	sort.Strings(names)
	return names
}

// ByName returns the calculators with the given names in the given order
func ByName(names []string) ([]ports.StatisticsCalculator, error) {
	calculators := make([]ports.StatisticsCalculator, 0, len(names))
	for _, name := range lo.Uniq(names) {
		c, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown statistic %q (known: %v)", name, Names())
		}
		calculators = append(calculators, c)
	}
	return calculators, nil
}

// complete drops pairs with a missing value
func complete(pairs []domain.Pair) []domain.Pair {
	return lo.Filter(pairs, func(p domain.Pair, _ int) bool {
		return !math.IsNaN(p.Left) && !math.IsNaN(p.Right)
	})
}

func mean(pairs []domain.Pair, f func(domain.Pair) float64) float64 {
	return lo.SumBy(pairs, f) / float64(len(pairs))
}

// pearson returns NaN when either side has no variance
func pearson(pairs []domain.Pair) float64 {
	meanLeft := mean(pairs, func(p domain.Pair) float64 { return p.Left })
	meanRight := mean(pairs, func(p domain.Pair) float64 { return p.Right })

	var cov, varLeft, varRight float64
	for _, p := range pairs {
		dl, dr := p.Left-meanLeft, p.Right-meanRight
		cov += dl * dr
		varLeft += dl * dl
		varRight += dr * dr
	}
	if varLeft == 0 || varRight == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varLeft*varRight)
}
