package cancel_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aescanero/evalpipe/internal/application/cancel"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/maxatome/go-testdeep/td"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeBus struct {
	stops atomic.Int32
	cause error
	err   error
}

func (b *fakeBus) Stop(cause error) error {
	b.stops.Add(1)
	b.cause = cause
	return b.err
}

type fakeConsumer struct {
	closes atomic.Int32
	err    error
}

func (c *fakeConsumer) Close() error {
	c.closes.Add(1)
	return c.err
}

func TestCancelIsIdempotent(t *testing.T) {
	// Arrange
	bus := &fakeBus{}
	consumer := &fakeConsumer{}
	c := cancel.NewCanceller(zap.NewNop())
	c.SetBusHandle(bus)
	c.SetInternalConsumer(consumer)

	// Act
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Cancel()
		}()
	}
	wg.Wait()

	// Assert
	for _, err := range errs {
		td.CmpTrue(t, errors.Is(err, domain.ErrCancelled))
	}
	td.Cmp(t, bus.stops.Load(), int32(1))
	td.CmpTrue(t, errors.Is(bus.cause, domain.ErrCancelled))
	td.Cmp(t, consumer.closes.Load(), int32(1))
	td.CmpTrue(t, c.Cancelled())
	select {
	case <-c.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestLateRegistration(t *testing.T) {
	c := cancel.NewCanceller(zap.NewNop())
	td.CmpFalse(t, c.Cancelled())

	td.CmpTrue(t, errors.Is(c.Cancel(), domain.ErrCancelled))

	bus := &fakeBus{}
	consumer := &fakeConsumer{}
	c.SetBusHandle(bus)
	c.SetInternalConsumer(consumer)

	td.Cmp(t, bus.stops.Load(), int32(1))
	td.Cmp(t, consumer.closes.Load(), int32(1))
}

func TestNoSideEffectsBeforeCancel(t *testing.T) {
	c := cancel.NewCanceller(zap.NewNop())
	bus := &fakeBus{}
	consumer := &fakeConsumer{}

	c.SetBusHandle(bus)
	c.SetInternalConsumer(consumer)

	td.Cmp(t, bus.stops.Load(), int32(0))
	td.Cmp(t, consumer.closes.Load(), int32(0))
	select {
	case <-c.Done():
		t.Fatal("done channel should be open")
	default:
	}
}

func TestCleanupErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := cancel.NewCanceller(zap.New(core))
	c.SetBusHandle(&fakeBus{err: errors.New("connection reset")})
	c.SetInternalConsumer(&fakeConsumer{err: errors.New("already closed")})

	err := c.Cancel()

	td.CmpTrue(t, errors.Is(err, domain.ErrCancelled))
	td.Cmp(t, logs.FilterMessage("failed to stop bus on cancellation").Len(), 1)
	td.Cmp(t, logs.FilterMessage("failed to close internal consumer on cancellation").Len(), 1)
}
