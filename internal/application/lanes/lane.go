package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	// ErrLaneShutdown resolves tasks that were rejected or abandoned because their lane shut down
	ErrLaneShutdown = errors.New("lane shut down")
	// ErrLaneNotConfigured is returned for a lane sized zero
	ErrLaneNotConfigured = errors.New("lane not configured")
	// ErrUnknownLane is returned for a lane name outside the topology
	ErrUnknownLane = errors.New("unknown lane")
)

// Name identifies a lane
type Name string

const (
	PoolLane                Name = "pool"
	ThresholdLane           Name = "threshold"
	MetricLane              Name = "metric"
	SamplingUncertaintyLane Name = "sampling-uncertainty"
	ProductLane             Name = "product"
)

// Lane is a bounded goroutine pool dedicated to one activity
type Lane struct {
	name    Name
	size    int
	pool    *ants.Pool
	logger  *zap.Logger
	metrics ports.MetricsCollector

	// ctx is cancelled when the lane shuts down
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	queued  atomic.Int64
	running atomic.Int64

	seq   atomic.Uint64
	tasks sync.Map // task id -> func(error) failing the task's future
}

// Status is a point-in-time view of a lane
type Status struct {
	Name    Name `json:"name"`
	Size    int  `json:"size"`
	Queued  int  `json:"queued"`
	Running int  `json:"running"`
	Closed  bool `json:"closed"`
}

func newLane(name Name, size int, logger *zap.Logger, metrics ports.MetricsCollector) (*Lane, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s lane: %w", name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Lane{
		name:    name,
		size:    size,
		pool:    pool,
		logger:  logger.With(zap.String("lane", string(name))),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Name returns the lane name
func (l *Lane) Name() Name {
	return l.name
}

// Status returns the current queue and running counts
func (l *Lane) Status() Status {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()

	return Status{
		Name:    l.name,
		Size:    l.size,
		Queued:  int(l.queued.Load()),
		Running: int(l.running.Load()),
		Closed:  closed,
	}
}

// Go submits fn to the lane and returns a future for its result. fn receives a
// context that is cancelled when ctx is done or the lane is forced down. The
// future always resolves: with fn's result, or with an error if the task
// panicked, never started or was abandoned.
func Go[T any](ctx context.Context, l *Lane, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	fail := func(err error) {
		var zero T
		f.Resolve(zero, err)
	}

	l.submit(ctx, func(taskCtx context.Context) {
		v, err := fn(taskCtx)
		f.Resolve(v, err)
	}, fail)

	return f
}

// submit queues a task. ants blocks callers while every worker is busy, so the
// blocked goroutine is the task's place in the lane queue.
func (l *Lane) submit(ctx context.Context, run func(context.Context), fail func(error)) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.metrics.IncLaneTasks(string(l.name), "rejected")
		fail(fmt.Errorf("%w: %s", ErrLaneShutdown, l.name))
		return
	}
	id := l.seq.Add(1)
	l.tasks.Store(id, fail)
	l.pending.Add(1)
	l.queued.Add(1)
	l.mu.RUnlock()

	go func() {
		err := l.pool.Submit(func() { l.execute(ctx, id, run, fail) })
		if err != nil {
			l.queued.Add(-1)
			l.tasks.Delete(id)
			l.pending.Done()
			l.metrics.IncLaneTasks(string(l.name), "abandoned")
			fail(fmt.Errorf("%w: %s: %v", ErrLaneShutdown, l.name, err))
		}
	}()
}

func (l *Lane) execute(ctx context.Context, id uint64, run func(context.Context), fail func(error)) {
	l.queued.Add(-1)
	l.running.Add(1)
	defer func() {
		l.running.Add(-1)
		l.tasks.Delete(id)
		l.pending.Done()
	}()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	if l.ctx.Err() != nil {
		l.metrics.IncLaneTasks(string(l.name), "abandoned")
		fail(fmt.Errorf("%w: %s", ErrLaneShutdown, l.name))
		return
	}
	if err := ctx.Err(); err != nil {
		l.metrics.IncLaneTasks(string(l.name), "skipped")
		fail(fmt.Errorf("task not started on %s lane: %w", l.name, err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r))
			l.metrics.IncLaneTasks(string(l.name), "panicked")
			fail(fmt.Errorf("task panicked on %s lane: %v", l.name, r))
		}
	}()

	run(taskCtx)
	l.metrics.IncLaneTasks(string(l.name), "completed")
}

// Shutdown stops accepting tasks and waits up to timeout for queued and
// running tasks to finish. Tasks still unfinished at the deadline are
// abandoned: their futures resolve with ErrLaneShutdown and their context is
// cancelled. It returns the number of abandoned tasks.
func (l *Lane) Shutdown(timeout time.Duration) int {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		l.cancel()
		l.pool.Release()
		l.logger.Debug("lane shut down")
		return 0
	case <-timer.C:
	}

	abandoned := 0
	l.tasks.Range(func(_, value any) bool {
		value.(func(error))(fmt.Errorf("%w: %s", ErrLaneShutdown, l.name))
		abandoned++
		return true
	})
	l.cancel()
	l.pool.Release()

	l.logger.Warn("lane forced down with unfinished tasks",
		zap.Int("abandoned", abandoned),
		zap.Duration("timeout", timeout))
	l.metrics.AddAbandonedTasks(string(l.name), abandoned)

	return abandoned
}
