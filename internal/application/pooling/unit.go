package pooling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aescanero/evalpipe/internal/application/groups"
	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrUnitReused is returned when a pool unit is run a second time
var ErrUnitReused = errors.New("pool unit already ran")

// minimumResampleSize is the smallest pool that sampling uncertainty is estimated for
const minimumResampleSize = 2

// UnitConfig holds everything a pool unit needs
type UnitConfig struct {
	EvaluationID string
	Request      domain.PoolRequest
	GroupID      string

	Computer                ports.PoolComputer
	Calculators             []ports.StatisticsCalculator
	SeparateBaselineMetrics bool
	// Sampling enables sampling-uncertainty estimation when set
	Sampling *SamplingConfig

	// PairWriter and BaselinePairWriter are optional
	PairWriter         ports.PairWriter
	BaselinePairWriter ports.PairWriter

	Publisher ports.Publisher
	Tracker   *groups.Tracker
	Topology  *lanes.Topology
	Logger    *zap.Logger
	Metrics   ports.MetricsCollector
}

// Validate checks that the required collaborators are present
func (c UnitConfig) Validate() error {
	switch {
	case c.GroupID == "":
		return fmt.Errorf("group id is required")
	case c.Computer == nil:
		return fmt.Errorf("pool computer is required")
	case len(c.Calculators) == 0:
		return fmt.Errorf("at least one statistics calculator is required")
	case c.Publisher == nil:
		return fmt.Errorf("publisher is required")
	case c.Tracker == nil:
		return fmt.Errorf("group tracker is required")
	case c.Topology == nil:
		return fmt.Errorf("lane topology is required")
	case c.Logger == nil:
		return fmt.Errorf("logger is required")
	}
	if c.Sampling != nil {
		if err := c.Sampling.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Unit computes, publishes and reports one pool. A unit runs at most once.
type Unit struct {
	cfg     UnitConfig
	logger  *zap.Logger
	metrics ports.MetricsCollector

	threshold *lanes.Lane
	metric    *lanes.Lane
	product   *lanes.Lane
	sampling  *lanes.Lane

	started atomic.Bool
}

// NewUnit validates the configuration and resolves the lanes the unit uses
func NewUnit(cfg UnitConfig) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool unit configuration: %w", err)
	}

	u := &Unit{
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.Int("pool", cfg.Request.Index), zap.String("group_id", cfg.GroupID)),
		metrics: cfg.Metrics,
	}
	if u.metrics == nil {
		u.metrics = ports.NopMetrics{}
	}

	var err error
	if u.threshold, err = cfg.Topology.Lane(lanes.ThresholdLane); err != nil {
		return nil, err
	}
	if u.metric, err = cfg.Topology.Lane(lanes.MetricLane); err != nil {
		return nil, err
	}
	if u.product, err = cfg.Topology.Lane(lanes.ProductLane); err != nil {
		return nil, err
	}
	if cfg.Sampling != nil {
		if u.sampling, err = cfg.Topology.Lane(lanes.SamplingUncertaintyLane); err != nil {
			return nil, fmt.Errorf("sampling uncertainty requested: %w", err)
		}
	}

	return u, nil
}

// Request returns the pool request of the unit
func (u *Unit) Request() domain.PoolRequest {
	return u.cfg.Request
}

// Submit runs the unit on the pool lane and returns its outcome future
func Submit(ctx context.Context, lane *lanes.Lane, unit *Unit) *lanes.Future[domain.PoolOutcome] {
	return lanes.Go(ctx, lane, unit.Run)
}

// Run executes the unit: compute the pool, calculate statistics, estimate
// sampling uncertainty, write pairs, publish, and report to the group tracker.
// Any failure aborts the unit; the tracker is only told about units that
// finished.
func (u *Unit) Run(ctx context.Context) (domain.PoolOutcome, error) {
	if !u.started.CompareAndSwap(false, true) {
		return domain.OutcomeNotAvailable, fmt.Errorf("%w: %s", ErrUnitReused, u.cfg.Request)
	}
	if err := ctx.Err(); err != nil {
		return domain.OutcomeNotAvailable, fmt.Errorf("%s not started: %w", u.cfg.Request, err)
	}

	start := time.Now()
	u.logger.Debug("pool unit started")

	data, err := u.cfg.Computer(ctx, u.cfg.Request)
	if err != nil {
		return domain.OutcomeNotAvailable, fmt.Errorf("failed to compute %s: %w", u.cfg.Request, err)
	}

	var statistics []domain.Statistics
	if data.IsEmpty() {
		u.logger.Debug("pool is empty, no statistics calculated")
	} else {
		nominal, err := u.computeStatistics(ctx, data)
		if err != nil {
			return domain.OutcomeNotAvailable, fmt.Errorf("failed to calculate statistics for %s: %w", u.cfg.Request, err)
		}
		quantiles, err := u.samplingUncertainty(ctx, data)
		if err != nil {
			return domain.OutcomeNotAvailable, fmt.Errorf("failed to estimate sampling uncertainty for %s: %w", u.cfg.Request, err)
		}
		statistics = append(nominal, quantiles...)
	}

	if err := u.writePairs(ctx, data); err != nil {
		return domain.OutcomeNotAvailable, fmt.Errorf("failed to write pairs for %s: %w", u.cfg.Request, err)
	}

	outcome, err := u.publish(ctx, statistics)
	if err != nil {
		return domain.OutcomeNotAvailable, err
	}

	if err := u.cfg.Tracker.RegisterPublication(ctx, u.cfg.GroupID, outcome == domain.OutcomePublished); err != nil {
		return domain.OutcomeNotAvailable, fmt.Errorf("failed to register publication for %s: %w", u.cfg.Request, err)
	}

	duration := time.Since(start)
	u.metrics.RecordPoolCompleted(outcome.String(), duration)
	u.logger.Debug("pool unit finished",
		zap.Stringer("outcome", outcome),
		zap.Int("messages", len(statistics)),
		zap.Duration("duration", duration))

	return outcome, nil
}

// computeStatistics slices the pool per threshold on the threshold lane; each
// slice fans its calculators out to the metric lane
func (u *Unit) computeStatistics(ctx context.Context, data domain.PoolData) ([]domain.Statistics, error) {
	futures := lo.Map(u.cfg.Request.EffectiveThresholds(), func(th domain.Threshold, _ int) *lanes.Future[[]domain.Statistics] {
		return lanes.Go(ctx, u.threshold, func(ctx context.Context) ([]domain.Statistics, error) {
			return u.computeThreshold(ctx, data, th)
		})
	})

	perThreshold, err := lanes.AwaitAll(ctx, futures)
	if err != nil {
		return nil, err
	}
	return lo.Flatten(perThreshold), nil
}

func (u *Unit) computeThreshold(ctx context.Context, data domain.PoolData, th domain.Threshold) ([]domain.Statistics, error) {
	sliced := domain.SliceByThreshold(data, th)

	main := sliced
	if u.cfg.SeparateBaselineMetrics {
		main = domain.PoolData{Request: sliced.Request, Pairs: sliced.Pairs}
	}

	var out []domain.Statistics

	values, err := u.calculate(ctx, main, u.cfg.Calculators)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		out = append(out, u.message(th, domain.OrientationMain, nil, len(main.Pairs), values))
	}

	if u.cfg.SeparateBaselineMetrics && sliced.HasBaseline() {
		baseline := sliced.BaselinePool()
		values, err := u.calculate(ctx, baseline, u.cfg.Calculators)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			out = append(out, u.message(th, domain.OrientationBaseline, nil, len(baseline.Pairs), values))
		}
	}

	return out, nil
}

// calculate runs each calculator on the metric lane and concatenates their batches
func (u *Unit) calculate(ctx context.Context, pool domain.PoolData, calculators []ports.StatisticsCalculator) ([]domain.Statistic, error) {
	futures := lo.Map(calculators, func(c ports.StatisticsCalculator, _ int) *lanes.Future[domain.StatisticsBatch] {
		return lanes.Go(ctx, u.metric, func(ctx context.Context) (domain.StatisticsBatch, error) {
			batch, err := c.Calculate(ctx, pool)
			if err != nil {
				return nil, fmt.Errorf("failed to calculate %s: %w", c.Name(), err)
			}
			return batch, nil
		})
	})

	batches, err := lanes.AwaitAll(ctx, futures)
	if err != nil {
		return nil, err
	}
	return lo.FlatMap(batches, func(b domain.StatisticsBatch, _ int) []domain.Statistic { return b }), nil
}

func (u *Unit) samplingUncertainty(ctx context.Context, data domain.PoolData) ([]domain.Statistics, error) {
	if u.sampling == nil {
		return nil, nil
	}
	return lanes.Go(ctx, u.sampling, func(ctx context.Context) ([]domain.Statistics, error) {
		return u.bootstrap(ctx, data)
	}).Await(ctx)
}

// series collects resampled values of one threshold and orientation
type series struct {
	threshold   domain.Threshold
	orientation domain.Orientation
	names       []string
	values      map[string][]float64
}

func (s *series) add(values []domain.Statistic) {
	for _, v := range values {
		if _, ok := s.values[v.Name]; !ok {
			s.names = append(s.names, v.Name)
		}
		s.values[v.Name] = append(s.values[v.Name], v.Value)
	}
}

// bootstrap estimates quantiles of every statistic over stationary block
// bootstrap resamples of the pool
func (u *Unit) bootstrap(ctx context.Context, data domain.PoolData) ([]domain.Statistics, error) {
	cfg := *u.cfg.Sampling
	if len(data.Pairs) < minimumResampleSize {
		u.logger.Warn("insufficient data to estimate sampling uncertainty",
			zap.Int("pairs", len(data.Pairs)),
			zap.Int("minimum", minimumResampleSize))
		return nil, nil
	}

	calculators := cfg.Calculators
	if len(calculators) == 0 {
		calculators = u.cfg.Calculators
	}

	thresholds := u.cfg.Request.EffectiveThresholds()
	main := make([]*series, len(thresholds))
	baseline := make([]*series, len(thresholds))
	for i, th := range thresholds {
		main[i] = &series{threshold: th, orientation: domain.OrientationMain, values: map[string][]float64{}}
		baseline[i] = &series{threshold: th, orientation: domain.OrientationBaseline, values: map[string][]float64{}}
	}

	resampler := NewResampler(data, cfg.BlockSize, cfg.Seed)
	for range cfg.SampleSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resample := resampler.Resample(data)
		for i, th := range thresholds {
			sliced := domain.SliceByThreshold(resample, th)
			pool := sliced
			if u.cfg.SeparateBaselineMetrics {
				pool = domain.PoolData{Request: sliced.Request, Pairs: sliced.Pairs}
			}
			values, err := calculateInline(ctx, pool, calculators)
			if err != nil {
				return nil, err
			}
			main[i].add(values)

			if u.cfg.SeparateBaselineMetrics && sliced.HasBaseline() {
				values, err := calculateInline(ctx, sliced.BaselinePool(), calculators)
				if err != nil {
					return nil, err
				}
				baseline[i].add(values)
			}
		}
	}

	var out []domain.Statistics
	for _, s := range append(main, baseline...) {
		if len(s.names) == 0 {
			continue
		}
		for _, q := range cfg.Quantiles {
			quantile := q
			values := lo.Map(s.names, func(name string, _ int) domain.Statistic {
				return domain.Statistic{Name: name, Value: Quantile(s.values[name], quantile)}
			})
			out = append(out, u.message(s.threshold, s.orientation, &quantile, len(data.Pairs), values))
		}
	}
	return out, nil
}

func calculateInline(ctx context.Context, pool domain.PoolData, calculators []ports.StatisticsCalculator) ([]domain.Statistic, error) {
	var out []domain.Statistic
	for _, c := range calculators {
		batch, err := c.Calculate(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate %s on resample: %w", c.Name(), err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// writePairs runs the pair writers on the product lane
func (u *Unit) writePairs(ctx context.Context, data domain.PoolData) error {
	var futures []*lanes.Future[struct{}]

	write := func(w ports.PairWriter, pairs []domain.Pair) {
		futures = append(futures, lanes.Go(ctx, u.product, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.WritePairs(ctx, u.cfg.Request, pairs)
		}))
	}
	if u.cfg.PairWriter != nil && len(data.Pairs) > 0 {
		write(u.cfg.PairWriter, data.Pairs)
	}
	if u.cfg.BaselinePairWriter != nil && data.HasBaseline() {
		write(u.cfg.BaselinePairWriter, data.Baseline)
	}

	_, err := lanes.AwaitAll(ctx, futures)
	return err
}

// publish sends every statistics message. The first message the bus refuses
// ends publication for the pool.
func (u *Unit) publish(ctx context.Context, statistics []domain.Statistics) (domain.PoolOutcome, error) {
	if len(statistics) == 0 {
		return domain.OutcomeNotAvailable, nil
	}

	for _, s := range statistics {
		sent, err := u.cfg.Publisher.Publish(ctx, s, u.cfg.GroupID)
		if err != nil {
			return domain.OutcomeNotAvailable, fmt.Errorf("failed to publish statistics for %s: %w", u.cfg.Request, err)
		}
		if !sent {
			u.logger.Debug("evaluation stopped, statistics not published")
			return domain.OutcomeAvailableNotPublished, nil
		}
		u.metrics.IncStatisticsPublished()
	}

	return domain.OutcomePublished, nil
}

func (u *Unit) message(th domain.Threshold, orientation domain.Orientation, quantile *float64, sampleSize int, values []domain.Statistic) domain.Statistics {
	return domain.Statistics{
		ID:           uuid.NewString(),
		EvaluationID: u.cfg.EvaluationID,
		PoolIndex:    u.cfg.Request.Index,
		FeatureGroup: u.cfg.Request.FeatureGroup.Name,
		TimeWindow:   u.cfg.Request.TimeWindow,
		Threshold:    th,
		Orientation:  orientation,
		Quantile:     quantile,
		SampleSize:   sampleSize,
		Values:       values,
		CreatedAt:    time.Now().UTC(),
	}
}
