package pooling

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
)

// SamplingConfig configures sampling-uncertainty estimation
type SamplingConfig struct {
	// SampleSize is the number of bootstrap resamples
	SampleSize int
	// Quantiles are the quantiles of the resampled statistics to publish, each in (0, 1)
	Quantiles []float64
	// BlockSize is the mean block length of the stationary bootstrap. Zero
	// selects the cube root of the pool size.
	BlockSize int
	// Seed fixes the resampling sequence. Zero draws a random seed.
	Seed uint64
	// Calculators overrides the calculators applied to each resample
	Calculators []ports.StatisticsCalculator
}

// Validate checks the sampling configuration
func (c SamplingConfig) Validate() error {
	if c.SampleSize <= 0 {
		return fmt.Errorf("sampling uncertainty sample size must be positive, got %d", c.SampleSize)
	}
	if len(c.Quantiles) == 0 {
		return fmt.Errorf("sampling uncertainty needs at least one quantile")
	}
	for _, q := range c.Quantiles {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("sampling uncertainty quantile must be in (0, 1), got %g", q)
		}
	}
	if c.BlockSize < 0 {
		return fmt.Errorf("sampling uncertainty block size must not be negative, got %d", c.BlockSize)
	}
	return nil
}

// Resampler draws stationary block bootstrap resamples of a pool. Blocks of
// consecutive pairs start at random positions, wrap around the end of the
// pool and have geometrically distributed lengths.
type Resampler struct {
	rng       *rand.Rand
	blockSize int
}

// NewResampler creates a resampler. A zero block size selects the cube root
// of the pool size.
func NewResampler(pool domain.PoolData, blockSize int, seed uint64) *Resampler {
	if blockSize <= 0 {
		blockSize = max(1, int(math.Round(math.Cbrt(float64(len(pool.Pairs))))))
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Resampler{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		blockSize: blockSize,
	}
}

// Resample returns a resampled copy of the pool. Main and baseline pairs are
// resampled independently and keep their sizes.
func (r *Resampler) Resample(pool domain.PoolData) domain.PoolData {
	return domain.PoolData{
		Request:  pool.Request,
		Pairs:    r.resample(pool.Pairs),
		Baseline: r.resample(pool.Baseline),
	}
}

func (r *Resampler) resample(pairs []domain.Pair) []domain.Pair {
	n := len(pairs)
	if n == 0 {
		return nil
	}

	restart := 1 / float64(r.blockSize)
	out := make([]domain.Pair, 0, n)
	idx := r.rng.IntN(n)
	for len(out) < n {
		out = append(out, pairs[idx])
		if r.rng.Float64() < restart {
			idx = r.rng.IntN(n)
		} else {
			idx = (idx + 1) % n
		}
	}
	return out
}

// Quantile returns the q-quantile of values by linear interpolation between
// order statistics. NaN values are ignored; with no finite values it returns NaN.
func Quantile(values []float64, q float64) float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	slices.Sort(sorted)

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
