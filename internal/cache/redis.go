package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// FindingsCache is an optional Redis-backed tier behind the bounded
// in-memory cache. It lets a fleet of engine instances share detection
// results; the in-memory bound stays authoritative per instance.
type FindingsCache struct {
	client *redis.Client
	config *RedisConfig
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFindingsCache creates a Redis-backed findings cache and verifies
// connectivity before returning.
func NewFindingsCache(config *RedisConfig, logger *zap.Logger) (*FindingsCache, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	fc := &FindingsCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := fc.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Findings cache initialized",
		zap.String("redis_url", maskRedisURL(config.URL)),
		zap.Duration("default_ttl", config.DefaultTTL))

	return fc, nil
}

// Get looks up the findings stored under key. A corrupted entry is
// deleted and treated as a miss.
func (fc *FindingsCache) Get(ctx context.Context, key string) ([]pii.Finding, bool) {
	data, err := fc.client.Get(ctx, fc.redisKey(key)).Result()
	if err == redis.Nil {
		fc.misses.Add(1)
		return nil, false
	} else if err != nil {
		fc.logger.Error("Findings cache lookup failed", zap.Error(err))
		return nil, false
	}

	var cached CachedResult
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		fc.logger.Error("Failed to unmarshal cached findings", zap.Error(err))
		fc.client.Del(ctx, fc.redisKey(key))
		return nil, false
	}

	fc.hits.Add(1)
	return cached.Findings, true
}

// Set stores findings under key with the configured TTL.
func (fc *FindingsCache) Set(ctx context.Context, key string, findings []pii.Finding) error {
	cached := CachedResult{
		Key:      key,
		Findings: findings,
		CachedAt: time.Now(),
		TTL:      int64(fc.config.DefaultTTL.Seconds()),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal findings for caching: %w", err)
	}

	if err := fc.client.Set(ctx, fc.redisKey(key), data, fc.config.DefaultTTL).Err(); err != nil {
		fc.logger.Error("Failed to cache findings", zap.Error(err))
		return fmt.Errorf("failed to cache findings: %w", err)
	}

	return nil
}

// Clear removes every cached findings entry under our prefix.
func (fc *FindingsCache) Clear(ctx context.Context) error {
	iter := fc.client.Scan(ctx, 0, fc.config.KeyPrefix+":*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := fc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	fc.logger.Info("Findings cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// HitRate returns the hit percentage from the in-process counters,
// without a Redis round trip.
func (fc *FindingsCache) HitRate() float64 {
	hits := fc.hits.Load()
	total := hits + fc.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Stats returns cache effectiveness counters plus Redis memory usage.
func (fc *FindingsCache) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Hits: fc.hits.Load(), Misses: fc.misses.Load()}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := fc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if mem, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := fc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Close closes the Redis connection.
func (fc *FindingsCache) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

func (fc *FindingsCache) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", fc.config.KeyPrefix, key)
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.Split(url, "@")
	userPart := parts[0]
	if strings.Contains(userPart, ":") {
		userParts := strings.Split(userPart, ":")
		if len(userParts) >= 3 {
			userParts[len(userParts)-1] = "***"
			parts[0] = strings.Join(userParts, ":")
		}
	}
	return strings.Join(parts, "@")
}
