package lanes_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/maxatome/go-testdeep/td"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTopology(t *testing.T, cfg lanes.TopologyConfig) *lanes.Topology {
	t.Helper()
	topology, err := lanes.NewTopology(cfg, zap.NewNop(), ports.NopMetrics{})
	td.Require(t).CmpNoError(err)
	t.Cleanup(func() { topology.ShutdownAll(time.Second) })
	return topology
}

func singleThreaded() lanes.TopologyConfig {
	return lanes.TopologyConfig{
		PoolThreads:      1,
		ThresholdThreads: 1,
		MetricThreads:    1,
		ProductThreads:   1,
	}
}

func lane(t *testing.T, topology *lanes.Topology, name lanes.Name) *lanes.Lane {
	t.Helper()
	l, err := topology.Lane(name)
	td.Require(t).CmpNoError(err)
	return l
}

func TestGo(t *testing.T) {
	ctx := context.Background()
	topology := newTopology(t, singleThreaded())
	metric := lane(t, topology, lanes.MetricLane)

	t.Run("value", func(t *testing.T) {
		f := lanes.Go(ctx, metric, func(context.Context) (int, error) { return 42, nil })

		v, err := f.Await(ctx)
		td.CmpNoError(t, err)
		td.Cmp(t, v, 42)
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		f := lanes.Go(ctx, metric, func(context.Context) (int, error) { return 0, boom })

		_, err := f.Await(ctx)
		td.CmpTrue(t, errors.Is(err, boom))
	})

	t.Run("panic", func(t *testing.T) {
		f := lanes.Go(ctx, metric, func(context.Context) (int, error) { panic("bad calculator") })

		_, err := f.Await(ctx)
		td.CmpContains(t, err, "panicked on metric lane")
	})

	t.Run("cancelled before start", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		ran := false

		f := lanes.Go(cctx, metric, func(context.Context) (int, error) {
			ran = true
			return 1, nil
		})

		_, err := f.Await(ctx)
		td.CmpTrue(t, errors.Is(err, context.Canceled))
		td.CmpFalse(t, ran)
	})
}

func TestNestedLanesDoNotDeadlock(t *testing.T) {
	// Arrange: a parent on the pool lane waits for children on other lanes,
	// every lane has a single thread
	ctx := context.Background()
	topology := newTopology(t, singleThreaded())
	pool := lane(t, topology, lanes.PoolLane)
	threshold := lane(t, topology, lanes.ThresholdLane)
	metric := lane(t, topology, lanes.MetricLane)

	parent := func(ctx context.Context) (int, error) {
		child := lanes.Go(ctx, threshold, func(ctx context.Context) (int, error) {
			grandChildren := []*lanes.Future[int]{
				lanes.Go(ctx, metric, func(context.Context) (int, error) { return 1, nil }),
				lanes.Go(ctx, metric, func(context.Context) (int, error) { return 2, nil }),
			}
			values, err := lanes.AwaitAll(ctx, grandChildren)
			if err != nil {
				return 0, err
			}
			return values[0] + values[1], nil
		})
		return child.Await(ctx)
	}

	// Act
	futures := []*lanes.Future[int]{
		lanes.Go(ctx, pool, parent),
		lanes.Go(ctx, pool, parent),
		lanes.Go(ctx, pool, parent),
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	values, err := lanes.AwaitAll(wctx, futures)

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, values, []int{3, 3, 3})
}

func TestLaneShutdown(t *testing.T) {
	ctx := context.Background()

	t.Run("graceful", func(t *testing.T) {
		topology := newTopology(t, singleThreaded())
		product := lane(t, topology, lanes.ProductLane)
		futures := make([]*lanes.Future[int], 0, 5)
		for i := range 5 {
			futures = append(futures, lanes.Go(ctx, product, func(context.Context) (int, error) {
				time.Sleep(5 * time.Millisecond)
				return i, nil
			}))
		}

		abandoned := product.Shutdown(5 * time.Second)

		td.Cmp(t, abandoned, 0)
		values, err := lanes.AwaitAll(ctx, futures)
		td.CmpNoError(t, err)
		td.Cmp(t, values, []int{0, 1, 2, 3, 4})
	})

	t.Run("forced with one running task", func(t *testing.T) {
		// Arrange
		topology := newTopology(t, singleThreaded())
		product := lane(t, topology, lanes.ProductLane)
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		started := make(chan struct{})
		f := lanes.Go(ctx, product, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		<-started

		// Act
		abandoned := product.Shutdown(50 * time.Millisecond)

		// Assert
		td.Cmp(t, abandoned, 1)
		_, err := f.Await(ctx)
		td.CmpTrue(t, errors.Is(err, lanes.ErrLaneShutdown))
	})

	t.Run("forced with queued tasks", func(t *testing.T) {
		// Arrange
		topology := newTopology(t, singleThreaded())
		product := lane(t, topology, lanes.ProductLane)
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		started := make(chan struct{})
		blocker := lanes.Go(ctx, product, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		<-started
		queued := []*lanes.Future[int]{
			lanes.Go(ctx, product, func(context.Context) (int, error) { return 2, nil }),
			lanes.Go(ctx, product, func(context.Context) (int, error) { return 3, nil }),
		}

		// Act
		abandoned := product.Shutdown(50 * time.Millisecond)

		// Assert
		td.Cmp(t, abandoned, 3)
		for _, f := range append(queued, blocker) {
			_, err := f.Await(ctx)
			td.CmpTrue(t, errors.Is(err, lanes.ErrLaneShutdown))
		}
	})

	t.Run("rejects work after shutdown", func(t *testing.T) {
		topology := newTopology(t, singleThreaded())
		product := lane(t, topology, lanes.ProductLane)
		td.Cmp(t, product.Shutdown(time.Second), 0)

		f := lanes.Go(ctx, product, func(context.Context) (int, error) { return 1, nil })

		_, err := f.Await(ctx)
		td.CmpTrue(t, errors.Is(err, lanes.ErrLaneShutdown))
		td.CmpTrue(t, product.Status().Closed)
	})
}

func TestTopology(t *testing.T) {
	t.Run("unknown and unconfigured lanes", func(t *testing.T) {
		topology := newTopology(t, singleThreaded())

		_, err := topology.Lane("reporting")
		td.CmpTrue(t, errors.Is(err, lanes.ErrUnknownLane))

		_, err = topology.Lane(lanes.SamplingUncertaintyLane)
		td.CmpTrue(t, errors.Is(err, lanes.ErrLaneNotConfigured))

		td.Cmp(t, topology.Status(), td.Len(4))
	})

	t.Run("sampling lane when sized", func(t *testing.T) {
		cfg := singleThreaded()
		cfg.SamplingUncertaintyThreads = 2
		topology := newTopology(t, cfg)

		sampling := lane(t, topology, lanes.SamplingUncertaintyLane)
		td.Cmp(t, sampling.Status(), lanes.Status{Name: lanes.SamplingUncertaintyLane, Size: 2})
	})

	t.Run("invalid configuration", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  lanes.TopologyConfig
			want string
		}{
			{"missing pool lane", lanes.TopologyConfig{ThresholdThreads: 1, MetricThreads: 1, ProductThreads: 1}, "pool lane needs at least one thread"},
			{"negative sampling", lanes.TopologyConfig{PoolThreads: 1, ThresholdThreads: 1, MetricThreads: 1, ProductThreads: 1, SamplingUncertaintyThreads: -1}, "must not be negative"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := lanes.NewTopology(tt.cfg, zap.NewNop(), nil)
				td.CmpContains(t, err, tt.want)
			})
		}
	})

	t.Run("shutdown report", func(t *testing.T) {
		ctx := context.Background()
		topology, err := lanes.NewTopology(singleThreaded(), zap.NewNop(), nil)
		td.Require(t).CmpNoError(err)
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		started := make(chan struct{})
		lanes.Go(ctx, lane(t, topology, lanes.MetricLane), func(context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
		<-started

		report := topology.ShutdownAll(50 * time.Millisecond)

		td.Cmp(t, report.Abandoned, map[lanes.Name]int{
			lanes.PoolLane:      0,
			lanes.ThresholdLane: 0,
			lanes.MetricLane:    1,
			lanes.ProductLane:   0,
		})
		td.Cmp(t, report.Total(), 1)
	})
}

type laneRecorder struct {
	ports.NopMetrics
	mu      sync.Mutex
	queued  map[string]int
	running map[string]int
}

func (r *laneRecorder) RecordLaneStatus(lane string, _, queued, running int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued[lane] = queued
	r.running[lane] = running
}

func TestMonitorCheck(t *testing.T) {
	// Arrange
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	topology := newTopology(t, singleThreaded())
	metric := lane(t, topology, lanes.MetricLane)
	release := make(chan struct{})
	started := make(chan struct{})
	lanes.Go(ctx, metric, func(context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started
	lanes.Go(ctx, metric, func(context.Context) (int, error) { return 0, nil })
	t.Cleanup(func() { close(release) })

	recorder := &laneRecorder{queued: map[string]int{}, running: map[string]int{}}
	monitor := lanes.NewMonitor(topology, time.Hour, zap.New(core), recorder)

	// Act
	monitor.Check()

	// Assert
	td.Cmp(t, recorder.queued["metric"], 1)
	td.Cmp(t, recorder.running["metric"], 1)
	td.Cmp(t, logs.FilterMessage("lane status").Len(), 4)
	td.Cmp(t, logs.FilterMessage("all lane threads are busy and tasks are queued").Len(), 1)
}

func TestMonitorStartStop(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	topology := newTopology(t, singleThreaded())
	monitor := lanes.NewMonitor(topology, 5*time.Millisecond, zap.New(core), nil)

	monitor.Start()
	monitor.Start()
	time.Sleep(30 * time.Millisecond)
	monitor.Stop()
	monitor.Stop()

	td.CmpGt(t, logs.FilterMessage("lane status").Len(), 0)
}
