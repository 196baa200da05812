package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/ccproxy/internal/types"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per provider under a key prefix. A nil client
// turns every call into a no-op (fail open).
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ccproxy:status:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// OpenRedis connects using a redis:// URL. An unreachable server is logged
// and the store runs without persistence.
func OpenRedis(ctx context.Context, dsn, prefix string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warn("redis not reachable (status persistence disabled)", "error", err)
		}
		rdb.Close()
		rdb = nil
	}
	return NewRedisStore(rdb, prefix), nil
}

func (s *RedisStore) key(provider string) string {
	return s.prefix + provider
}

func (s *RedisStore) SaveResult(ctx context.Context, e Entry) error {
	if s.rdb == nil {
		return nil
	}
	err := s.rdb.HSet(ctx, s.key(e.Provider),
		"test_result", string(e.Result),
		"status", e.Status,
		"error", e.Error,
		"model", e.Model,
		"latency_ms", e.LatencyMs,
		"updated_at", e.UpdatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis save result %s: %w", e.Provider, err)
	}
	return nil
}

func (s *RedisStore) SaveModels(ctx context.Context, provider string, models []string) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key(provider), "models", data).Err(); err != nil {
		return fmt.Errorf("redis save models %s: %w", provider, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]Record, error) {
	if s.rdb == nil {
		return nil, nil
	}
	var records []Record
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis load %s: %w", key, err)
		}
		records = append(records, recordFromHash(strings.TrimPrefix(key, s.prefix), fields))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// recordFromHash decodes a provider hash. Malformed fields decode to zero.
func recordFromHash(provider string, fields map[string]string) Record {
	rec := Record{Entry: Entry{Provider: provider, Result: types.ResultUnknown}}
	if r, ok := types.ParseTestResult(fields["test_result"]); ok {
		rec.Result = r
	}
	rec.Status, _ = strconv.Atoi(fields["status"])
	rec.Error = fields["error"]
	rec.Model = fields["model"]
	rec.LatencyMs, _ = strconv.ParseInt(fields["latency_ms"], 10, 64)
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	if raw := fields["models"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Models)
	}
	return rec
}
