package pooling_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/evalpipe/internal/application/groups"
	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/internal/application/pooling"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/maxatome/go-testdeep/td"
	"go.uber.org/zap"
)

// countCalculator reports the number of pairs of the pool
type countCalculator struct {
	calls atomic.Int32
}

func (c *countCalculator) Name() string { return "count" }

func (c *countCalculator) Calculate(_ context.Context, pool domain.PoolData) (domain.StatisticsBatch, error) {
	c.calls.Add(1)
	if len(pool.Pairs) == 0 {
		return nil, nil
	}
	return domain.StatisticsBatch{{Name: "count", Value: float64(len(pool.Pairs))}}, nil
}

// meanErrorCalculator reports the mean of right minus left
type meanErrorCalculator struct{}

func (meanErrorCalculator) Name() string { return "mean_error" }

func (meanErrorCalculator) Calculate(_ context.Context, pool domain.PoolData) (domain.StatisticsBatch, error) {
	if len(pool.Pairs) == 0 {
		return nil, nil
	}
	sum := 0.0
	for _, p := range pool.Pairs {
		sum += p.Right - p.Left
	}
	return domain.StatisticsBatch{{Name: "mean_error", Value: sum / float64(len(pool.Pairs))}}, nil
}

type failingCalculator struct {
	err error
}

func (failingCalculator) Name() string { return "failing" }

func (c failingCalculator) Calculate(context.Context, domain.PoolData) (domain.StatisticsBatch, error) {
	return nil, c.err
}

type publishedMessage struct {
	groupID    string
	statistics domain.Statistics
}

type recordingPublisher struct {
	mu        sync.Mutex
	messages  []publishedMessage
	completed []string
	refuse    bool
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, s domain.Statistics, groupID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	if p.refuse {
		return false, nil
	}
	p.messages = append(p.messages, publishedMessage{groupID: groupID, statistics: s})
	return true, nil
}

func (p *recordingPublisher) MarkGroupComplete(_ context.Context, groupID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, groupID)
	return nil
}

func (p *recordingPublisher) published() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.messages...)
}

func (p *recordingPublisher) completions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.completed...)
}

type recordingWriter struct {
	mu     sync.Mutex
	writes map[int][]domain.Pair
	calls  int
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{writes: map[int][]domain.Pair{}}
}

func (w *recordingWriter) WritePairs(_ context.Context, request domain.PoolRequest, pairs []domain.Pair) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.writes[request.Index] = pairs
	return nil
}

func staticComputer(data domain.PoolData) ports.PoolComputer {
	return func(_ context.Context, request domain.PoolRequest) (domain.PoolData, error) {
		data.Request = request
		return data, nil
	}
}

func pairs(values ...float64) []domain.Pair {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Pair, 0, len(values))
	for i, v := range values {
		out = append(out, domain.Pair{
			Feature:   "DRRC2",
			ValidTime: start.Add(time.Duration(i) * time.Hour),
			Left:      v,
			Right:     v + 1,
		})
	}
	return out
}

func request(index int, group string) domain.PoolRequest {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.PoolRequest{
		Index:        index,
		FeatureGroup: domain.FeatureGroup{Name: group},
		TimeWindow:   domain.TimeWindow{Earliest: start, Latest: start.Add(24 * time.Hour)},
	}
}

type fixture struct {
	topology   *lanes.Topology
	publisher  *recordingPublisher
	tracker    *groups.Tracker
	calculator *countCalculator
}

func newFixture(t *testing.T, groupSizes map[string]int) *fixture {
	t.Helper()
	topology, err := lanes.NewTopology(lanes.TopologyConfig{
		PoolThreads:                4,
		ThresholdThreads:           2,
		MetricThreads:              2,
		SamplingUncertaintyThreads: 1,
		ProductThreads:             1,
	}, zap.NewNop(), nil)
	td.Require(t).CmpNoError(err)
	t.Cleanup(func() { topology.ShutdownAll(time.Second) })

	publisher := &recordingPublisher{}
	tracker := groups.NewTracker(publisher.MarkGroupComplete, zap.NewNop(), nil)
	for id, size := range groupSizes {
		td.Require(t).CmpNoError(tracker.Preregister(id, size))
	}

	return &fixture{
		topology:   topology,
		publisher:  publisher,
		tracker:    tracker,
		calculator: &countCalculator{},
	}
}

func (f *fixture) config(req domain.PoolRequest, data domain.PoolData) pooling.UnitConfig {
	return pooling.UnitConfig{
		EvaluationID: "evaluation-1",
		Request:      req,
		GroupID:      groups.GroupID(req),
		Computer:     staticComputer(data),
		Calculators:  []ports.StatisticsCalculator{f.calculator},
		Publisher:    f.publisher,
		Tracker:      f.tracker,
		Topology:     f.topology,
		Logger:       zap.NewNop(),
	}
}

func (f *fixture) unit(t *testing.T, cfg pooling.UnitConfig) *pooling.Unit {
	t.Helper()
	unit, err := pooling.NewUnit(cfg)
	td.Require(t).CmpNoError(err)
	return unit
}
