package memory

import (
	"context"
	"errors"
	"sync"
)

// ErrNotLocked is returned when releasing a lock that is not held
var ErrNotLocked = errors.New("shared lock not held")

// SharedLock implements ports.AdvisoryLock for a single process.
// Shared holders never conflict, so it only counts them.
type SharedLock struct {
	mu      sync.Mutex
	holders int
}

// NewSharedLock creates a new in-process shared lock
func NewSharedLock() *SharedLock {
	return &SharedLock{}
}

// LockShared registers one more holder
func (l *SharedLock) LockShared(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders++
	return nil
}

// UnlockShared releases one holder
func (l *SharedLock) UnlockShared(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holders == 0 {
		return ErrNotLocked
	}
	l.holders--
	return nil
}

// Holders returns the number of current holders
func (l *SharedLock) Holders() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders
}
