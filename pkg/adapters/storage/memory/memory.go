package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/evalpipe/pkg/domain"
)

// Store implements ports.StatisticsSink using an in-memory map keyed by group
type Store struct {
	groups map[string][]domain.Statistics
	closed bool
	mu     sync.RWMutex
}

// NewStore creates a new in-memory statistics store
func NewStore() *Store {
	return &Store{
		groups: make(map[string][]domain.Statistics),
	}
}

// SaveStatistics keeps a copy of the statistics under their group
func (s *Store) SaveStatistics(_ context.Context, groupID string, statistics domain.Statistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("statistics store is closed")
	}

	stored := statistics
	stored.Values = append([]domain.Statistic(nil), statistics.Values...)
	s.groups[groupID] = append(s.groups[groupID], stored)
	return nil
}

// Load returns the statistics stored for a group
func (s *Store) Load(groupID string) []domain.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Statistics(nil), s.groups[groupID]...)
}

// Groups returns the ids of the groups with stored statistics, sorted
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of stored statistics messages
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, stored := range s.groups {
		count += len(stored)
	}
	return count
}

// Close refuses further writes
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
