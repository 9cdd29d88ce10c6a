package cancel

import (
	"sync"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"go.uber.org/zap"
)

// Canceller is the single-fire cancellation gate of an evaluation. The bus
// handle and internal consumer may be registered after construction, and
// after cancellation: late registrations are stopped immediately.
type Canceller struct {
	logger *zap.Logger

	mu        sync.Mutex
	cancelled bool
	bus       ports.BusHandle
	consumer  ports.Consumer
	done      chan struct{}
}

// NewCanceller creates a canceller
func NewCanceller(logger *zap.Logger) *Canceller {
	return &Canceller{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Cancel cancels the evaluation. The first call stops the bus handle, closes
// the internal consumer and closes Done; later calls only return the
// cancellation error.
func (c *Canceller) Cancel() error {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return domain.ErrCancelled
	}
	c.cancelled = true
	bus, consumer := c.bus, c.consumer
	close(c.done)
	c.mu.Unlock()

	c.logger.Warn("cancelling evaluation")

	if bus != nil {
		c.stopBus(bus)
	}
	if consumer != nil {
		c.closeConsumer(consumer)
	}

	return domain.ErrCancelled
}

// SetBusHandle registers the bus to stop on cancellation
func (c *Canceller) SetBusHandle(bus ports.BusHandle) {
	c.mu.Lock()
	c.bus = bus
	cancelled := c.cancelled
	c.mu.Unlock()

	if cancelled && bus != nil {
		c.stopBus(bus)
	}
}

// SetInternalConsumer registers the consumer to close on cancellation
func (c *Canceller) SetInternalConsumer(consumer ports.Consumer) {
	c.mu.Lock()
	c.consumer = consumer
	cancelled := c.cancelled
	c.mu.Unlock()

	if cancelled && consumer != nil {
		c.closeConsumer(consumer)
	}
}

// Cancelled reports whether Cancel was called
func (c *Canceller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Done is closed on the first call to Cancel
func (c *Canceller) Done() <-chan struct{} {
	return c.done
}

func (c *Canceller) stopBus(bus ports.BusHandle) {
	if err := bus.Stop(domain.ErrCancelled); err != nil {
		c.logger.Warn("failed to stop bus on cancellation", zap.Error(err))
	}
}

func (c *Canceller) closeConsumer(consumer ports.Consumer) {
	if err := consumer.Close(); err != nil {
		c.logger.Warn("failed to close internal consumer on cancellation", zap.Error(err))
	}
}
