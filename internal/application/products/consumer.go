package products

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/pkg/ports"
	"go.uber.org/zap"
)

var (
	// ErrConsumerClosed is returned by Await once the consumer is closed
	ErrConsumerClosed = errors.New("product consumer closed")

	// ErrEvaluationStopped is returned by Await when the bus announced a stop
	ErrEvaluationStopped = errors.New("evaluation stopped")
)

// Consumer subscribes to the bus and stores every statistics message in a
// sink, on the product lane. Delivery order is not assumed: Await compares the
// messages stored with the count announced at publication completion.
type Consumer struct {
	subscriber ports.Subscriber
	lane       *lanes.Lane
	sink       ports.StatisticsSink
	logger     *zap.Logger
	metrics    ports.MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	stored    int
	failed    int
	expected  int
	stopCause string
	stopped   bool
	changed   chan struct{}
}

// NewConsumer creates a product consumer
func NewConsumer(subscriber ports.Subscriber, lane *lanes.Lane, sink ports.StatisticsSink, logger *zap.Logger, metrics ports.MetricsCollector) *Consumer {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		subscriber: subscriber,
		lane:       lane,
		sink:       sink,
		logger:     logger,
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		expected:   -1,
		changed:    make(chan struct{}),
	}
}

// Start subscribes to the bus. It may be called once.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConsumerClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	// the subscription lives until Close, not until the caller's ctx is done
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.subscriber.Subscribe(c.ctx, c.handle); err != nil {
		return fmt.Errorf("failed to subscribe product consumer: %w", err)
	}

	c.logger.Debug("product consumer started")
	return nil
}

// Await blocks until every announced message is stored, the bus is stopped,
// the consumer is closed or ctx is done
func (c *Consumer) Await(ctx context.Context) error {
	for {
		c.mu.Lock()
		changed := c.changed
		switch {
		case c.stopped:
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrEvaluationStopped, c.stopCause)
		case c.expected >= 0 && c.stored+c.failed >= c.expected:
			failed := c.failed
			c.mu.Unlock()
			if failed > 0 {
				return fmt.Errorf("failed to store %d statistics messages", failed)
			}
			return nil
		case c.closed:
			c.mu.Unlock()
			return ErrConsumerClosed
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Stored returns the number of statistics messages stored
func (c *Consumer) Stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored
}

// Close ends the subscription and closes the sink. It is idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.signal()
	c.mu.Unlock()

	c.cancel()
	if err := c.sink.Close(); err != nil {
		return fmt.Errorf("failed to close statistics sink: %w", err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, event ports.Event) error {
	switch event.Type {
	case ports.EventStatistics:
		return c.store(ctx, event)

	case ports.EventGroupComplete:
		c.logger.Debug("message group complete",
			zap.String("group_id", event.GroupID),
			zap.Int("messages", event.MessageCount))

	case ports.EventPublicationComplete:
		c.mu.Lock()
		c.expected = event.MessageCount
		c.signal()
		c.mu.Unlock()

	case ports.EventEvaluationStopped:
		c.mu.Lock()
		c.stopped = true
		c.stopCause = event.Error
		c.signal()
		c.mu.Unlock()
	}
	return nil
}

func (c *Consumer) store(ctx context.Context, event ports.Event) error {
	if event.Statistics == nil {
		return c.record(fmt.Errorf("statistics event %s has no statistics", event.ID))
	}
	statistics := *event.Statistics

	future := lanes.Go(ctx, c.lane, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.sink.SaveStatistics(ctx, event.GroupID, statistics)
	})
	_, err := future.Await(ctx)
	if err != nil {
		err = fmt.Errorf("failed to store statistics %s: %w", statistics.ID, err)
	}
	return c.record(err)
}

func (c *Consumer) record(err error) error {
	status := "stored"
	if err != nil {
		status = "failed"
	}
	c.metrics.IncStatisticsStored(status)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
	} else {
		c.stored++
	}
	c.signal()
	return err
}

// signal wakes every Await. Callers hold mu.
func (c *Consumer) signal() {
	close(c.changed)
	c.changed = make(chan struct{})
}
