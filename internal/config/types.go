package config

import (
	"time"

	"github.com/complyark/pii-sentinel/internal/cache"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Mirror    MirrorConfig    `yaml:"mirror" mapstructure:"mirror"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Scan      ScanConfig      `yaml:"scan" mapstructure:"scan"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DetectionConfig contains the hybrid detection pipeline configuration
type DetectionConfig struct {
	ServiceURL      string        `yaml:"service_url" mapstructure:"service_url"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FallbackEnabled bool          `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	CacheEnabled    bool          `yaml:"cache_enabled" mapstructure:"cache_enabled"`
}

// CacheConfig contains detection cache configuration. The in-memory
// bound always applies; the Redis tier is optional.
type CacheConfig struct {
	MaxEntries int               `yaml:"max_entries" mapstructure:"max_entries"`
	Redis      cache.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// MirrorConfig selects where rule changes are forwarded.
// Mode is off, http, or postgres.
type MirrorConfig struct {
	Mode        string        `yaml:"mode" mapstructure:"mode"`
	BackendURL  string        `yaml:"backend_url" mapstructure:"backend_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains WebSocket event feed configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	Username        string        `yaml:"username" mapstructure:"username"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Events          struct {
		BroadcastDetections  bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
		BroadcastRuleChanges bool `yaml:"broadcast_rule_changes" mapstructure:"broadcast_rule_changes"`
		BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// RateLimitConfig contains API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ScanConfig contains batch scan pipeline configuration
type ScanConfig struct {
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	Workers     int    `yaml:"workers" mapstructure:"workers"`
	ReportPath  string `yaml:"report_path" mapstructure:"report_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Detection: DetectionConfig{
			ServiceURL:      "http://localhost:5000",
			Timeout:         30 * time.Second,
			FallbackEnabled: true,
			CacheEnabled:    true,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			Redis: cache.RedisConfig{
				Enabled:         false,
				URL:             "redis://localhost:6379/0",
				MaxConnections:  10,
				MinIdleConns:    2,
				ConnMaxLifetime: time.Hour,
				DefaultTTL:      15 * time.Minute,
				KeyPrefix:       "pii-sentinel:findings",
			},
		},
		Mirror: MirrorConfig{
			Mode:    "off",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Scan: ScanConfig{
			BatchSize:  500,
			Workers:    4,
			ReportPath: "findings.parquet",
		},
	}

	cfg.Logging.File.Path = "logs/sentinel.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	cfg.WebSocket.Events.BroadcastDetections = true
	cfg.WebSocket.Events.BroadcastRuleChanges = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
