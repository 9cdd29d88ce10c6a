package lanes

import (
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// laneOrder is the order lanes are created, reported and logged in
var laneOrder = []Name{PoolLane, ThresholdLane, MetricLane, SamplingUncertaintyLane, ProductLane}

// TopologyConfig sizes each lane. A zero-sized sampling-uncertainty lane is
// not created; every other lane needs at least one goroutine.
type TopologyConfig struct {
	PoolThreads                int
	ThresholdThreads           int
	MetricThreads              int
	SamplingUncertaintyThreads int
	ProductThreads             int
}

// Size returns the configured size of a lane
func (c TopologyConfig) Size(name Name) int {
	switch name {
	case PoolLane:
		return c.PoolThreads
	case ThresholdLane:
		return c.ThresholdThreads
	case MetricLane:
		return c.MetricThreads
	case SamplingUncertaintyLane:
		return c.SamplingUncertaintyThreads
	case ProductLane:
		return c.ProductThreads
	}
	return 0
}

// Validate checks the lane sizes
func (c TopologyConfig) Validate() error {
	for _, name := range laneOrder {
		size := c.Size(name)
		if size < 0 {
			return fmt.Errorf("%s lane size must not be negative, got %d", name, size)
		}
		if size == 0 && name != SamplingUncertaintyLane {
			return fmt.Errorf("%s lane needs at least one thread", name)
		}
	}
	return nil
}

// Topology is the fixed set of lanes of one evaluation. Each activity runs on
// its own lane, so a task never waits behind its own sub-tasks.
type Topology struct {
	lanes  map[Name]*Lane
	logger *zap.Logger
}

// ShutdownReport lists the tasks abandoned per lane at shutdown
type ShutdownReport struct {
	Abandoned map[Name]int
}

// Total returns the number of abandoned tasks across all lanes
func (r ShutdownReport) Total() int {
	return lo.Sum(lo.Values(r.Abandoned))
}

// NewTopology creates the lanes described by cfg
func NewTopology(cfg TopologyConfig, logger *zap.Logger, metrics ports.MetricsCollector) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lane configuration: %w", err)
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	t := &Topology{
		lanes:  make(map[Name]*Lane, len(laneOrder)),
		logger: logger,
	}

	for _, name := range laneOrder {
		size := cfg.Size(name)
		if size == 0 {
			continue
		}
		lane, err := newLane(name, size, logger, metrics)
		if err != nil {
			t.ShutdownAll(0) // release lanes created so far
			return nil, err
		}
		t.lanes[name] = lane
	}

	logger.Info("lane topology created",
		zap.Int("pool", cfg.PoolThreads),
		zap.Int("threshold", cfg.ThresholdThreads),
		zap.Int("metric", cfg.MetricThreads),
		zap.Int("sampling_uncertainty", cfg.SamplingUncertaintyThreads),
		zap.Int("product", cfg.ProductThreads))

	return t, nil
}

// Lane returns the named lane
func (t *Topology) Lane(name Name) (*Lane, error) {
	if !lo.Contains(laneOrder, name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLane, name)
	}
	lane, ok := t.lanes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLaneNotConfigured, name)
	}
	return lane, nil
}

// Status returns the status of every configured lane
func (t *Topology) Status() []Status {
	return lo.FilterMap(laneOrder, func(name Name, _ int) (Status, bool) {
		lane, ok := t.lanes[name]
		if !ok {
			return Status{}, false
		}
		return lane.Status(), true
	})
}

// ShutdownAll shuts every lane down concurrently, each bounded by timeout
func (t *Topology) ShutdownAll(timeout time.Duration) ShutdownReport {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		report = ShutdownReport{Abandoned: make(map[Name]int, len(t.lanes))}
	)

	for name, lane := range t.lanes {
		wg.Add(1)
		go func(name Name, lane *Lane) {
			defer wg.Done()
			abandoned := lane.Shutdown(timeout)
			mu.Lock()
			report.Abandoned[name] = abandoned
			mu.Unlock()
		}(name, lane)
	}
	wg.Wait()

	if total := report.Total(); total > 0 {
		t.logger.Warn("lanes shut down with abandoned tasks", zap.Int("abandoned", total))
	} else {
		t.logger.Info("lanes shut down")
	}

	return report
}
