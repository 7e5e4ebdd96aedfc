package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisSink.
const DefaultRedisPrefix = "heatmap"

// RedisSink writes batches to Redis.
//
// Records go to the list "{prefix}:{YYYY-MM-DD}", run metadata to the hash
// "{prefix}:runs:{runID}".
type RedisSink struct {
	redis  *redis.Client
	prefix string
}

// NewRedisSink creates a sink on redisClient. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisSink(redisClient *redis.Client, prefix string) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{
		redis:  redisClient,
		prefix: prefix,
	}
}

// DayKey returns the list key holding the records of day (YYYY-MM-DD).
func (s *RedisSink) DayKey(day string) string {
	return s.prefix + ":" + day
}

// RunKey returns the hash key holding the metadata of a run.
func (s *RedisSink) RunKey(runID string) string {
	return s.prefix + ":runs:" + runID
}

// WriteBatch stores all records of b in one transaction.
func (s *RedisSink) WriteBatch(ctx context.Context, b heatmap.Batch) (err error) {
	start := time.Now()
	defer func() {
		WriteDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
		observe("redis", len(b.Records), err)
	}()

	if len(b.Records) == 0 {
		return nil
	}

	values := make([]any, len(b.Records))
	for i, rec := range b.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.TileID, err)
		}
		values[i] = data
	}

	dayKey := s.DayKey(b.Day())
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, dayKey, values...)
		pipe.HSet(ctx, s.RunKey(b.RunID), map[string]any{
			"region":      b.Region,
			"target_date": b.Day(),
			"created_at":  b.CreatedAt.UTC().Format(time.RFC3339),
			"records":     strconv.Itoa(len(b.Records)),
			"key":         dayKey,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis tx: %w", err)
	}

	return nil
}

// Records reads back the records stored for day.
func (s *RedisSink) Records(ctx context.Context, day string) ([]heatmap.OutputRecord, error) {
	raw, err := s.redis.LRange(ctx, s.DayKey(day), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	records := make([]heatmap.OutputRecord, 0, len(raw))
	for _, item := range raw {
		var rec heatmap.OutputRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
