package events

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrGroupComplete is returned when publishing to, or completing, a group that is already complete
	ErrGroupComplete = errors.New("message group already complete")
	// ErrPublicationComplete is returned when publishing after publication was marked complete
	ErrPublicationComplete = errors.New("publication already complete")
	// ErrBusClosed is returned when using a closed bus
	ErrBusClosed = errors.New("bus closed")
)

// Ledger keeps the publication bookkeeping shared by the bus implementations:
// messages per group, completed groups, and the stopped and closed states.
type Ledger struct {
	mu          sync.Mutex
	counts      map[string]int
	completed   map[string]bool
	total       int
	stopped     bool
	cause       error
	publication bool
	closed      bool
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		counts:    make(map[string]int),
		completed: make(map[string]bool),
	}
}

// Reserve counts one message for the group. It returns false without error
// when the bus was stopped.
func (l *Ledger) Reserve(groupID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return false, ErrBusClosed
	case l.stopped:
		return false, nil
	case l.publication:
		return false, ErrPublicationComplete
	case l.completed[groupID]:
		return false, fmt.Errorf("%w: %s", ErrGroupComplete, groupID)
	}

	l.counts[groupID]++
	l.total++
	return true, nil
}

// Release undoes a reservation whose message could not be sent
func (l *Ledger) Release(groupID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[groupID] > 0 {
		l.counts[groupID]--
		l.total--
	}
}

// CompleteGroup marks the group complete and returns its message count
func (l *Ledger) CompleteGroup(groupID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrBusClosed
	}
	if l.completed[groupID] {
		return 0, fmt.Errorf("%w: %s", ErrGroupComplete, groupID)
	}
	l.completed[groupID] = true
	return l.counts[groupID], nil
}

// CompletePublication marks publication complete. It returns the message
// counts of the groups still open, which it completes, and the total number
// of messages.
func (l *Ledger) CompletePublication() (map[string]int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, 0, ErrBusClosed
	}
	if l.publication {
		return nil, 0, ErrPublicationComplete
	}
	l.publication = true

	open := make(map[string]int)
	for groupID, count := range l.counts {
		if !l.completed[groupID] {
			l.completed[groupID] = true
			open[groupID] = count
		}
	}
	return open, l.total, nil
}

// Stop marks the bus stopped. Only the first call returns true.
func (l *Ledger) Stop(cause error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return false
	}
	l.stopped = true
	l.cause = cause
	return true
}

// Stopped reports whether the bus was stopped, and why
func (l *Ledger) Stopped() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped, l.cause
}

// Close marks the bus closed. Only the first call returns true.
func (l *Ledger) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.closed = true
	return true
}

// Total returns the number of messages counted
func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
