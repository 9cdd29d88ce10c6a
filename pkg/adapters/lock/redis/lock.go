package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrExclusivelyLocked is returned when another process holds the exclusive lock
	ErrExclusivelyLocked = errors.New("resource is exclusively locked")

	// ErrNotLocked is returned when releasing a lock that is not held
	ErrNotLocked = errors.New("shared lock not held")
)

// acquireShared sets the shared key unless the exclusive key exists
var acquireShared = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
return 1
`)

// SharedLock implements ports.AdvisoryLock with expiring Redis keys. Each
// holder owns one key under the shared prefix, refreshed until released.
type SharedLock struct {
	client   *redis.Client
	logger   *zap.Logger
	resource string
	holder   string
	ttl      time.Duration

	mu     sync.Mutex
	held   bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSharedLock creates a shared lock on resource with the given key TTL
func NewSharedLock(client *redis.Client, resource string, ttl time.Duration, logger *zap.Logger) *SharedLock {
	return &SharedLock{
		client:   client,
		logger:   logger,
		resource: resource,
		holder:   uuid.NewString(),
		ttl:      ttl,
	}
}

// LockShared acquires the shared lock and keeps it alive until UnlockShared
func (l *SharedLock) LockShared(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}

	acquired, err := acquireShared.Run(ctx, l.client,
		[]string{getExclusiveKey(l.resource), l.sharedKey()},
		l.holder, l.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to acquire shared lock: %w", err)
	}
	if acquired == 0 {
		return fmt.Errorf("failed to acquire shared lock on %s: %w", l.resource, ErrExclusivelyLocked)
	}

	l.held = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.refresh(l.stopCh, l.doneCh)

	l.logger.Info("shared lock acquired",
		zap.String("resource", l.resource),
		zap.String("holder", l.holder))

	return nil
}

// UnlockShared stops the refresh and deletes the holder key
func (l *SharedLock) UnlockShared(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrNotLocked
	}
	l.held = false
	close(l.stopCh)
	<-l.doneCh

	if err := l.client.Del(ctx, l.sharedKey()).Err(); err != nil {
		return fmt.Errorf("failed to release shared lock: %w", err)
	}

	l.logger.Info("shared lock released",
		zap.String("resource", l.resource),
		zap.String("holder", l.holder))

	return nil
}

// Holder returns the id of this lock holder
func (l *SharedLock) Holder() string {
	return l.holder
}

func (l *SharedLock) refresh(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.client.PExpire(ctx, l.sharedKey(), l.ttl).Err()
			cancel()
			if err != nil {
				l.logger.Warn("failed to refresh shared lock",
					zap.String("resource", l.resource),
					zap.Error(err))
			}
		}
	}
}

func (l *SharedLock) sharedKey() string {
	return fmt.Sprintf("evalpipe:lock:%s:shared:%s", l.resource, l.holder)
}

// getExclusiveKey returns the key an exclusive holder of resource sets
func getExclusiveKey(resource string) string {
	return fmt.Sprintf("evalpipe:lock:%s:exclusive", resource)
}
