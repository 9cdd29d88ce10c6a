package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/pkg/adapters/events"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus implements ports.Bus with in-process, asynchronous delivery
type Bus struct {
	evaluationID string
	logger       *zap.Logger
	ledger       *events.Ledger

	// ctx is handed to subscribers and cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	subscribers map[uint64]ports.EventHandler
	nextID      uint64
	history     []ports.Event
}

// NewBus creates an in-memory bus for one evaluation
func NewBus(evaluationID string, logger *zap.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		evaluationID: evaluationID,
		logger:       logger,
		ledger:       events.NewLedger(),
		ctx:          ctx,
		cancel:       cancel,
		subscribers:  make(map[uint64]ports.EventHandler),
	}
}

// Publish delivers a statistics message to every subscriber
func (b *Bus) Publish(_ context.Context, statistics domain.Statistics, groupID string) (bool, error) {
	ok, err := b.ledger.Reserve(groupID)
	if err != nil || !ok {
		return false, err
	}

	b.deliver(ports.Event{
		Type:       ports.EventStatistics,
		GroupID:    groupID,
		Statistics: &statistics,
	})
	return true, nil
}

// MarkGroupComplete announces that the group receives no more messages
func (b *Bus) MarkGroupComplete(_ context.Context, groupID string) error {
	count, err := b.ledger.CompleteGroup(groupID)
	if err != nil {
		return err
	}

	b.deliver(ports.Event{
		Type:         ports.EventGroupComplete,
		GroupID:      groupID,
		MessageCount: count,
	})
	return nil
}

// MarkPublicationComplete completes the open groups and announces the total
// number of messages published
func (b *Bus) MarkPublicationComplete(_ context.Context) error {
	open, total, err := b.ledger.CompletePublication()
	if err != nil {
		return err
	}

	for groupID, count := range open {
		b.deliver(ports.Event{
			Type:         ports.EventGroupComplete,
			GroupID:      groupID,
			MessageCount: count,
		})
	}
	b.deliver(ports.Event{
		Type:         ports.EventPublicationComplete,
		MessageCount: total,
	})
	return nil
}

// Stop refuses further messages and tells subscribers why. Only the first
// call has an effect.
func (b *Bus) Stop(cause error) error {
	if !b.ledger.Stop(cause) {
		return nil
	}

	event := ports.Event{Type: ports.EventEvaluationStopped}
	if cause != nil {
		event.Error = cause.Error()
	}
	b.deliver(event)

	b.logger.Info("bus stopped", zap.String("evaluation_id", b.evaluationID), zap.Error(cause))
	return nil
}

// Subscribe registers a handler until ctx is done or the bus is closed
func (b *Bus) Subscribe(ctx context.Context, handler ports.EventHandler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}()

	return nil
}

// Close drops every subscriber. It is idempotent.
func (b *Bus) Close() error {
	if !b.ledger.Close() {
		return nil
	}
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[uint64]ports.EventHandler)
	return nil
}

// Events returns every event delivered so far, in delivery order
func (b *Bus) Events() []ports.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ports.Event(nil), b.history...)
}

// Stopped reports whether the bus was stopped
func (b *Bus) Stopped() bool {
	stopped, _ := b.ledger.Stopped()
	return stopped
}

func (b *Bus) deliver(event ports.Event) {
	event.ID = uuid.NewString()
	event.EvaluationID = b.evaluationID
	event.Timestamp = time.Now().UTC()

	b.mu.Lock()
	b.history = append(b.history, event)
	handlers := make([]ports.EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		go func(h ports.EventHandler) {
			if err := h(b.ctx, event); err != nil {
				b.logger.Warn("subscriber failed to handle event",
					zap.String("event_id", event.ID),
					zap.String("type", string(event.Type)),
					zap.Error(err))
			}
		}(handler)
	}
}
