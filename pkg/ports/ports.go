// Package ports defines the interfaces between the evaluation core and its
// collaborators: pool computation, statistics calculation, pair writing, the
// message bus, the advisory lock, the statistics sink and metrics.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/evalpipe/pkg/domain"
)

// PoolComputer materialises the pairs of a pool
type PoolComputer func(ctx context.Context, request domain.PoolRequest) (domain.PoolData, error)

// StatisticsCalculator computes named scores from a pool slice
type StatisticsCalculator interface {
	Name() string
	Calculate(ctx context.Context, pool domain.PoolData) (domain.StatisticsBatch, error)
}

// PairWriter persists the pairs of a pool. Implementations are not required
// to be idempotent; callers write each pool at most once.
type PairWriter interface {
	WritePairs(ctx context.Context, request domain.PoolRequest, pairs []domain.Pair) error
}

// Publisher sends statistics messages tagged with a group id
type Publisher interface {
	// Publish returns false without error when the evaluation was stopped and
	// the message was not sent.
	Publish(ctx context.Context, statistics domain.Statistics, groupID string) (bool, error)
	// MarkGroupComplete tells consumers that the group will receive no more messages
	MarkGroupComplete(ctx context.Context, groupID string) error
}

// BusHandle is the part of the bus the canceller needs
type BusHandle interface {
	Stop(cause error) error
}

// Consumer is an internal consumer of bus messages
type Consumer interface {
	Close() error
}

// EventType identifies the kind of bus event
type EventType string

const (
	EventStatistics          EventType = "statistics"
	EventGroupComplete       EventType = "group.complete"
	EventPublicationComplete EventType = "publication.complete"
	EventEvaluationStopped   EventType = "evaluation.stopped"
)

// Event is a message delivered to bus subscribers
type Event struct {
	ID           string             `json:"id"`
	Type         EventType          `json:"type"`
	EvaluationID string             `json:"evaluation_id"`
	GroupID      string             `json:"group_id,omitempty"`
	Statistics   *domain.Statistics `json:"statistics,omitempty"`
	MessageCount int                `json:"message_count,omitempty"`
	Error        string             `json:"error,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// EventHandler handles bus events
type EventHandler func(ctx context.Context, event Event) error

// Subscriber delivers bus events to a handler until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

// Bus is the asynchronous message bus of one evaluation
type Bus interface {
	Publisher
	BusHandle
	Subscriber
	// MarkPublicationComplete completes every open group and announces the
	// total number of messages sent
	MarkPublicationComplete(ctx context.Context) error
	Close() error
}

// AdvisoryLock is held in shared mode for the lifetime of an evaluation
type AdvisoryLock interface {
	LockShared(ctx context.Context) error
	UnlockShared(ctx context.Context) error
}

// StatisticsSink stores statistics consumed from the bus
type StatisticsSink interface {
	SaveStatistics(ctx context.Context, groupID string, statistics domain.Statistics) error
	Close() error
}

// MetricsCollector records pipeline metrics
type MetricsCollector interface {
	RecordLaneStatus(lane string, size, queued, running int)
	IncLaneTasks(lane, status string)
	AddAbandonedTasks(lane string, count int)
	RecordPoolCompleted(outcome string, duration time.Duration)
	IncGroupsCompleted()
	IncStatisticsPublished()
	IncStatisticsStored(status string)
	RecordEvaluation(state string, duration time.Duration)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) RecordLaneStatus(string, int, int, int) {}
func (NopMetrics) IncLaneTasks(string, string) {}
func (NopMetrics) AddAbandonedTasks(string, int) {}
func (NopMetrics) RecordPoolCompleted(string, time.Duration) {}
func (NopMetrics) IncGroupsCompleted() {}
func (NopMetrics) IncStatisticsPublished() {}
func (NopMetrics) IncStatisticsStored(string) {}
func (NopMetrics) RecordEvaluation(string, time.Duration) {}
