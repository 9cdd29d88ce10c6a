package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/pkg/adapters/events"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// stopTimeout bounds the stop notification, which must not depend on a caller context
const stopTimeout = 5 * time.Second

// StreamsBus implements ports.Bus on a Redis stream per evaluation
type StreamsBus struct {
	client        *redis.Client
	logger        *zap.Logger
	ledger        *events.Ledger
	evaluationID  string
	consumerGroup string
	consumerName  string
	block         time.Duration

	mu      sync.Mutex
	cancels []context.CancelFunc
	groups  []string
}

// NewStreamsBus creates a Redis Streams bus for one evaluation
func NewStreamsBus(client *redis.Client, evaluationID, consumerGroup, consumerName string, logger *zap.Logger) *StreamsBus {
	return &StreamsBus{
		client:        client,
		logger:        logger,
		ledger:        events.NewLedger(),
		evaluationID:  evaluationID,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		block:         time.Second,
	}
}

// StreamKey returns the stream holding the events of the evaluation
func (b *StreamsBus) StreamKey() string {
	return getStreamKey(b.evaluationID)
}

// Publish appends a statistics message to the evaluation stream
func (b *StreamsBus) Publish(ctx context.Context, statistics domain.Statistics, groupID string) (bool, error) {
	ok, err := b.ledger.Reserve(groupID)
	if err != nil || !ok {
		return false, err
	}

	if err := b.add(ctx, ports.Event{
		Type:       ports.EventStatistics,
		GroupID:    groupID,
		Statistics: &statistics,
	}); err != nil {
		b.ledger.Release(groupID)
		return false, err
	}
	return true, nil
}

// MarkGroupComplete appends a group completion event
func (b *StreamsBus) MarkGroupComplete(ctx context.Context, groupID string) error {
	count, err := b.ledger.CompleteGroup(groupID)
	if err != nil {
		return err
	}
	return b.add(ctx, ports.Event{
		Type:         ports.EventGroupComplete,
		GroupID:      groupID,
		MessageCount: count,
	})
}

// MarkPublicationComplete completes the open groups and appends a publication
// completion event carrying the total message count
func (b *StreamsBus) MarkPublicationComplete(ctx context.Context) error {
	open, total, err := b.ledger.CompletePublication()
	if err != nil {
		return err
	}

	for groupID, count := range open {
		if err := b.add(ctx, ports.Event{
			Type:         ports.EventGroupComplete,
			GroupID:      groupID,
			MessageCount: count,
		}); err != nil {
			return err
		}
	}
	return b.add(ctx, ports.Event{
		Type:         ports.EventPublicationComplete,
		MessageCount: total,
	})
}

// Stop refuses further messages and appends a stop event. Only the first call
// has an effect.
func (b *StreamsBus) Stop(cause error) error {
	if !b.ledger.Stop(cause) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	event := ports.Event{Type: ports.EventEvaluationStopped}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := b.add(ctx, event); err != nil {
		return fmt.Errorf("failed to announce evaluation stop: %w", err)
	}

	b.logger.Info("bus stopped",
		zap.String("evaluation_id", b.evaluationID),
		zap.Error(cause))
	return nil
}

// Subscribe reads the evaluation stream from its first entry until ctx is
// done or the bus is closed. Every subscription gets its own consumer group so
// that each subscriber sees every event.
func (b *StreamsBus) Subscribe(ctx context.Context, handler ports.EventHandler) error {
	streamKey := b.StreamKey()
	group := fmt.Sprintf("%s:%s", b.consumerGroup, uuid.NewString())

	err := b.client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.groups = append(b.groups, group)
	b.mu.Unlock()

	b.logger.Info("subscribed to evaluation stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", group),
		zap.String("consumer", b.consumerName))

	go b.readStream(ctx, streamKey, group, handler)

	return nil
}

// Close stops the subscriptions and removes their consumer groups. The Redis
// client is closed by its owner.
func (b *StreamsBus) Close() error {
	if !b.ledger.Close() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for _, group := range b.groups {
		if err := b.client.XGroupDestroy(ctx, b.StreamKey(), group).Err(); err != nil {
			b.logger.Warn("failed to remove consumer group",
				zap.String("consumer_group", group),
				zap.Error(err))
		}
	}
	b.groups = nil
	return nil
}

// Groups returns the consumer groups of the live subscriptions
func (b *StreamsBus) Groups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.groups...)
}

func (b *StreamsBus) add(ctx context.Context, event ports.Event) error {
	event.ID = uuid.NewString()
	event.EvaluationID = b.evaluationID
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.StreamKey(),
		Values: map[string]interface{}{
			"type":     string(event.Type),
			"group_id": event.GroupID,
			"data":     string(data),
		},
	}

	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("group_id", event.GroupID))

	return nil
}

// readStream reads events from the stream until ctx is done
func (b *StreamsBus) readStream(ctx context.Context, streamKey, group string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    b.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.processMessage(ctx, streamKey, group, message, handler)
			}
		}
	}
}

// processMessage hands one stream message to the handler and acknowledges it
func (b *StreamsBus) processMessage(ctx context.Context, streamKey, group string, message redis.XMessage, handler ports.EventHandler) {
	event, err := DecodeMessage(message)
	if err != nil {
		b.logger.Error("invalid stream message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := b.client.XAck(ctx, streamKey, group, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// DecodeMessage decodes the event carried by a stream message
func DecodeMessage(message redis.XMessage) (ports.Event, error) {
	data, ok := message.Values["data"].(string)
	if !ok {
		return ports.Event{}, fmt.Errorf("message %s has no data field", message.ID)
	}

	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return ports.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

// getStreamKey returns the Redis stream key for an evaluation
func getStreamKey(evaluationID string) string {
	return fmt.Sprintf("evalpipe:events:%s", evaluationID)
}
