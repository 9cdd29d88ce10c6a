package pooling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/pkg/domain"
	"go.uber.org/zap"
)

// UnitResult is the outcome of one pool unit
type UnitResult struct {
	Request domain.PoolRequest `json:"request"`
	Outcome domain.PoolOutcome `json:"outcome"`
}

// ChainResult collects the results of the units that finished
type ChainResult struct {
	Results []UnitResult `json:"results"`
}

// Chain runs pool units on the pool lane and joins them into one future. The
// first unit failure resolves the future without waiting for the rest.
type Chain struct {
	lane     *lanes.Lane
	units    []*Unit
	reporter *Reporter
	logger   *zap.Logger
}

// NewChain creates a chain. The reporter is optional.
func NewChain(lane *lanes.Lane, units []*Unit, reporter *Reporter, logger *zap.Logger) *Chain {
	return &Chain{
		lane:     lane,
		units:    units,
		reporter: reporter,
		logger:   logger,
	}
}

// Start submits every unit and returns the aggregate future. The future
// resolves with the results of all units once every unit succeeded, or with
// the first failure as soon as it happens. The first failure also cancels the
// units that have not started yet.
func (c *Chain) Start(ctx context.Context) *lanes.Future[ChainResult] {
	aggregate := lanes.NewFuture[ChainResult]()
	chainCtx, cancel := context.WithCancel(ctx)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make([]UnitResult, 0, len(c.units))
		failOnce sync.Once
		firstErr error
		failed   = make(chan struct{})
	)

	snapshot := func() ChainResult {
		mu.Lock()
		defer mu.Unlock()
		return ChainResult{Results: append([]UnitResult(nil), results...)}
	}

	fail := func(unit *Unit, err error) {
		won := false
		failOnce.Do(func() {
			firstErr = fmt.Errorf("%s failed: %w", unit.Request(), err)
			won = true
			close(failed)
			cancel()
		})
		if won {
			c.logger.Error("pool failed, aborting remaining pools",
				zap.Int("pool", unit.Request().Index),
				zap.Error(err))
			return
		}
		if errors.Is(err, context.Canceled) {
			c.logger.Debug("pool aborted after an earlier failure", zap.Int("pool", unit.Request().Index))
			return
		}
		c.logger.Warn("additional pool failure after the first",
			zap.Int("pool", unit.Request().Index),
			zap.Error(err))
	}

	for _, unit := range c.units {
		wg.Add(1)
		future := Submit(chainCtx, c.lane, unit)
		go func() {
			defer wg.Done()
			outcome, err := future.Result()
			if err != nil {
				fail(unit, err)
				return
			}
			if c.reporter != nil {
				c.reporter.Record(unit.Request(), outcome)
			}
			mu.Lock()
			results = append(results, UnitResult{Request: unit.Request(), Outcome: outcome})
			mu.Unlock()
		}()
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	go func() {
		select {
		case <-allDone:
			// a failure may land together with the last success
			select {
			case <-failed:
				aggregate.Resolve(snapshot(), firstErr)
			default:
				aggregate.Resolve(snapshot(), nil)
			}
			cancel()
		case <-failed:
			aggregate.Resolve(snapshot(), firstErr)
		case <-ctx.Done():
			cancel()
			aggregate.Resolve(snapshot(), fmt.Errorf("pool chain interrupted: %w", ctx.Err()))
		}
	}()

	return aggregate
}
