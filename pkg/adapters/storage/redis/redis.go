package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StatisticsStore implements ports.StatisticsSink using Redis lists with a TTL
type StatisticsStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStatisticsStore creates a new Redis statistics store
func NewStatisticsStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StatisticsStore {
	return &StatisticsStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveStatistics appends the statistics to the list of their group
func (s *StatisticsStore) SaveStatistics(ctx context.Context, groupID string, statistics domain.Statistics) error {
	key := getStatisticsKey(statistics.EvaluationID, groupID)

	data, err := json.Marshal(statistics)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save statistics: %w", err)
	}

	s.logger.Debug("statistics saved",
		zap.String("statistics_id", statistics.ID),
		zap.String("group_id", groupID))

	return nil
}

// Load retrieves the statistics stored for a group of an evaluation
func (s *StatisticsStore) Load(ctx context.Context, evaluationID, groupID string) ([]domain.Statistics, error) {
	key := getStatisticsKey(evaluationID, groupID)

	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	stored := make([]domain.Statistics, 0, len(items))
	for _, item := range items {
		var statistics domain.Statistics
		if err := json.Unmarshal([]byte(item), &statistics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal statistics: %w", err)
		}
		stored = append(stored, statistics)
	}

	return stored, nil
}

// Groups returns the ids of the groups with stored statistics for an evaluation
func (s *StatisticsStore) Groups(ctx context.Context, evaluationID string) ([]string, error) {
	prefix := getStatisticsKey(evaluationID, "")
	pattern := prefix + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	groupIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		groupIDs = append(groupIDs, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(groupIDs)

	return groupIDs, nil
}

// Close is a no-op: the Redis client is closed by its owner
func (s *StatisticsStore) Close() error {
	return nil
}

// getStatisticsKey returns the Redis key for the statistics of a group
func getStatisticsKey(evaluationID, groupID string) string {
	return fmt.Sprintf("evalpipe:statistics:%s:%s", evaluationID, groupID)
}
