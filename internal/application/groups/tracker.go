package groups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrUnknownGroup is returned for a group that was never preregistered
	ErrUnknownGroup = errors.New("unknown message group")
	// ErrInvalidGroupSize is returned when preregistering a group with no members
	ErrInvalidGroupSize = errors.New("message group size must be positive")
	// ErrDuplicateGroup is returned when a group is preregistered twice
	ErrDuplicateGroup = errors.New("message group already registered")
	// ErrGroupExhausted is returned when more units report than the group holds
	ErrGroupExhausted = errors.New("message group already complete")
)

// publishedBit flags that at least one unit of the group published. The lower
// bits hold the number of units still to report.
const publishedBit = uint64(1) << 63

// Completer is invoked once per group when its last unit reports and at least
// one unit published
type Completer func(ctx context.Context, groupID string) error

type group struct {
	state atomic.Uint64
}

// Tracker counts the units of each message group down to zero
type Tracker struct {
	mu     sync.RWMutex
	groups map[string]*group

	completer Completer
	logger    *zap.Logger
	metrics   ports.MetricsCollector
}

// NewTracker creates an empty tracker
func NewTracker(completer Completer, logger *zap.Logger, metrics ports.MetricsCollector) *Tracker {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Tracker{
		groups:    make(map[string]*group),
		completer: completer,
		logger:    logger,
		metrics:   metrics,
	}
}

// Preregister declares a group and the number of units assigned to it. Every
// group must be preregistered before any of its units executes.
func (t *Tracker) Preregister(groupID string, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: group %s, size %d", ErrInvalidGroupSize, groupID, size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.groups[groupID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, groupID)
	}

	g := &group{}
	g.state.Store(uint64(size))
	t.groups[groupID] = g

	t.logger.Debug("message group registered",
		zap.String("group_id", groupID),
		zap.Int("size", size))

	return nil
}

// RegisterPublication records that one unit of the group finished, and
// whether it published. The unit that brings the group to zero invokes the
// completer, provided some unit of the group published.
func (t *Tracker) RegisterPublication(ctx context.Context, groupID string, published bool) error {
	g, err := t.lookup(groupID)
	if err != nil {
		return err
	}

	for {
		old := g.state.Load()
		remaining := old &^ publishedBit
		if remaining == 0 {
			return fmt.Errorf("%w: %s", ErrGroupExhausted, groupID)
		}

		next := remaining - 1
		if published || old&publishedBit != 0 {
			next |= publishedBit
		}

		if !g.state.CompareAndSwap(old, next) {
			continue
		}

		if next&^publishedBit != 0 {
			return nil
		}
		if next&publishedBit == 0 {
			t.logger.Debug("message group finished without publications",
				zap.String("group_id", groupID))
			return nil
		}
		return t.complete(ctx, groupID)
	}
}

func (t *Tracker) complete(ctx context.Context, groupID string) error {
	if err := t.completer(ctx, groupID); err != nil {
		return fmt.Errorf("failed to complete message group %s: %w", groupID, err)
	}
	t.metrics.IncGroupsCompleted()
	t.logger.Debug("message group complete", zap.String("group_id", groupID))
	return nil
}

// Remaining returns the number of units still to report for the group and
// whether any unit has published
func (t *Tracker) Remaining(groupID string) (int, bool, error) {
	g, err := t.lookup(groupID)
	if err != nil {
		return 0, false, err
	}
	state := g.state.Load()
	return int(state &^ publishedBit), state&publishedBit != 0, nil
}

// Groups returns the registered group ids
func (t *Tracker) Groups() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Keys(t.groups)
}

func (t *Tracker) lookup(groupID string) (*group, error) {
	t.mu.RLock()
	g, ok := t.groups[groupID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return g, nil
}

// GroupID maps a pool request to its message group: one group per feature group
func GroupID(request domain.PoolRequest) string {
	return request.FeatureGroup.Name
}

// NewFeatureGroupTracker creates a tracker with one group per feature group of
// the requests, sized by the number of requests in it
func NewFeatureGroupTracker(requests []domain.PoolRequest, completer Completer, logger *zap.Logger, metrics ports.MetricsCollector) (*Tracker, error) {
	tracker := NewTracker(completer, logger, metrics)
	for groupID, size := range lo.CountValuesBy(requests, GroupID) {
		if err := tracker.Preregister(groupID, size); err != nil {
			return nil, err
		}
	}
	return tracker, nil
}
