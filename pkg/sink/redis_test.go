package sink

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is reachable. tests/integration covers the container-backed path.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisSink(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	s := NewRedisSink(client, "")
	if s.prefix != DefaultRedisPrefix {
		t.Errorf("prefix = %q, want %q", s.prefix, DefaultRedisPrefix)
	}
	if got := s.DayKey("2024-05-14"); got != "heatmap:2024-05-14" {
		t.Errorf("DayKey() = %q", got)
	}
	if got := s.RunKey("abc"); got != "heatmap:runs:abc" {
		t.Errorf("RunKey() = %q", got)
	}
}

func TestNewRedisSink_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisSink should panic with nil redis client")
		}
	}()
	NewRedisSink(nil, "")
}

func TestRedisSink_WriteBatch(t *testing.T) {
	client := setupTestRedis(t)
	s := NewRedisSink(client, "test")
	ctx := context.Background()

	b := testBatch(3)
	if err := s.WriteBatch(ctx, b); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	records, err := s.Records(ctx, "2024-05-14")
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for i, rec := range records {
		if rec != b.Records[i] {
			t.Errorf("record %d = %+v, want %+v", i, rec, b.Records[i])
		}
	}

	meta, err := client.HGetAll(ctx, s.RunKey(b.RunID)).Result()
	if err != nil {
		t.Fatalf("HGetAll() error = %v", err)
	}
	if meta["records"] != "3" || meta["target_date"] != "2024-05-14" || meta["region"] != b.Region {
		t.Errorf("run metadata = %v", meta)
	}
}

func TestRedisSink_AppendOnly(t *testing.T) {
	client := setupTestRedis(t)
	s := NewRedisSink(client, "test")
	ctx := context.Background()

	first := testBatch(2)
	second := testBatch(2)
	second.RunID = "second-run"

	if err := s.WriteBatch(ctx, first); err != nil {
		t.Fatalf("first WriteBatch() error = %v", err)
	}
	if err := s.WriteBatch(ctx, second); err != nil {
		t.Fatalf("second WriteBatch() error = %v", err)
	}

	n, err := client.LLen(ctx, s.DayKey("2024-05-14")).Result()
	if err != nil {
		t.Fatalf("LLen() error = %v", err)
	}
	if n != 4 {
		t.Errorf("list length = %d, want 4", n)
	}
	if exists, _ := client.Exists(ctx, s.RunKey("second-run")).Result(); exists != 1 {
		t.Error("expected metadata for second run")
	}
}

func TestRedisSink_EmptyBatch(t *testing.T) {
	client := setupTestRedis(t)
	s := NewRedisSink(client, "test")
	ctx := context.Background()

	b := testBatch(0)
	if err := s.WriteBatch(ctx, b); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	if exists, _ := client.Exists(ctx, s.RunKey(b.RunID)).Result(); exists != 0 {
		t.Error("expected no keys for an empty batch")
	}
}
