package cache

import (
	"time"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// Stats represents cache performance statistics.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes,omitempty"`
}

// CachedResult is the serialized form of a detection result stored in
// the Redis tier.
type CachedResult struct {
	Key      string        `json:"key"`
	Findings []pii.Finding `json:"findings"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      int64         `json:"ttl"`
}

// RedisConfig contains Redis findings-cache configuration.
type RedisConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	URL             string        `yaml:"url" mapstructure:"url"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns    int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	DefaultTTL      time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix       string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
