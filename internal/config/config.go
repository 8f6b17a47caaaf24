// Package config defines node configuration and its loading layers.
package config

import (
	"context"
	"fmt"
	"time"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Actor is a configured synthetic community member.
type Actor struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// NodeID is the origin id of this node. Empty means a random uuid.
	NodeID string `koanf:"node_id"`
	// UserID is the local user receiving activity notifications.
	UserID string `koanf:"user_id"`
	// QueueSize bounds the dispatch queue.
	QueueSize int `koanf:"queue_size"`

	// Transport selects memory or redis broadcast.
	Transport     string `koanf:"transport"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisChannel  string `koanf:"redis_channel"`

	// Store selects memory, sqlite or redis persistence for progress and notifications.
	Store          string `koanf:"store"`
	SQLitePath     string `koanf:"sqlite_path"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`

	TypingTimeoutMS int `koanf:"typing_timeout_ms"`

	// Autonomous enables the synthetic activity loop.
	Autonomous          bool    `koanf:"autonomous"`
	ActivityMinMS       int     `koanf:"activity_min_ms"`
	ActivityMaxMS       int     `koanf:"activity_max_ms"`
	ReactionMinMS       int     `koanf:"reaction_min_ms"`
	ReactionMaxMS       int     `koanf:"reaction_max_ms"`
	TypingDurationMS    int     `koanf:"typing_duration_ms"`
	MaxReactions        int     `koanf:"max_reactions"`
	ReactionProbability float64 `koanf:"reaction_probability"`
	Actors              []Actor `koanf:"actors"`

	// ActivitySuppression is the chance an activity notification is dropped.
	ActivitySuppression float64 `koanf:"activity_suppression"`
	NotificationLimit   int     `koanf:"notification_limit"`

	// CatalogPath points at a YAML badge catalog. Empty uses the built-in one.
	CatalogPath string `koanf:"catalog_path"`

	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`

	// MetricsNamespace and MetricsSubsystem prefix every Prometheus metric.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	// MetricsLatencyBuckets overrides the dispatch latency buckets, in milliseconds.
	MetricsLatencyBuckets []float64 `koanf:"metrics_latency_buckets"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		UserID:              "reader",
		QueueSize:           4096,
		Transport:           TransportMemory,
		RedisAddr:           "localhost:6379",
		RedisChannel:        "chorus:events",
		Store:               StoreMemory,
		SQLitePath:          "chorus.db",
		RedisKeyPrefix:      "chorus:kv:",
		TypingTimeoutMS:     3000,
		Autonomous:          true,
		ActivityMinMS:       8000,
		ActivityMaxMS:       20000,
		ReactionMinMS:       1000,
		ReactionMaxMS:       5000,
		TypingDurationMS:    2000,
		MaxReactions:        3,
		ReactionProbability: 0.5,
		ActivitySuppression: 0.7,
		NotificationLimit:   200,
		ShutdownTimeoutMS:   10000,
		MetricsNamespace:    "chorus",
		MetricsSubsystem:    "core",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.Transport != TransportMemory && c.Transport != TransportRedis:
		return fmt.Errorf("%w: %w: transport %q", ErrInvalidConfig, ErrUnknownBackend, c.Transport)
	case c.Store != StoreMemory && c.Store != StoreSQLite && c.Store != StoreRedis:
		return fmt.Errorf("%w: %w: store %q", ErrInvalidConfig, ErrUnknownBackend, c.Store)
	case c.Store == StoreSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
	case (c.Transport == TransportRedis || c.Store == StoreRedis) && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required", ErrInvalidConfig)
	case c.ReactionProbability < 0 || c.ReactionProbability > 1:
		return fmt.Errorf("%w: reaction_probability must be within [0, 1]", ErrInvalidConfig)
	case c.ActivitySuppression < 0 || c.ActivitySuppression > 1:
		return fmt.Errorf("%w: activity_suppression must be within [0, 1]", ErrInvalidConfig)
	case c.MaxReactions < 0:
		return fmt.Errorf("%w: max_reactions must not be negative", ErrInvalidConfig)
	case c.TypingTimeoutMS <= 0:
		return fmt.Errorf("%w: typing_timeout_ms must be positive", ErrInvalidConfig)
	}
	for i := 1; i < len(c.MetricsLatencyBuckets); i++ {
		if c.MetricsLatencyBuckets[i] <= c.MetricsLatencyBuckets[i-1] {
			return fmt.Errorf("%w: metrics_latency_buckets must be strictly increasing", ErrInvalidConfig)
		}
	}
	for i, a := range c.Actors {
		if a.ID == "" {
			return fmt.Errorf("%w: actor #%d has no id", ErrInvalidConfig, i)
		}
	}
	return nil
}

// SharedStore reports whether the store is visible to other nodes.
func (c *Config) SharedStore() bool {
	return c.Store == StoreRedis
}

// TypingTimeout returns how long typing lasts before it becomes idle.
func (c *Config) TypingTimeout() time.Duration { return ms(c.TypingTimeoutMS) }

// ActivityDelay returns the autonomous activity delay range.
func (c *Config) ActivityDelay() (lo, hi time.Duration) {
	return ms(c.ActivityMinMS), ms(c.ActivityMaxMS)
}

// ReactionDelay returns the reaction delay range.
func (c *Config) ReactionDelay() (lo, hi time.Duration) {
	return ms(c.ReactionMinMS), ms(c.ReactionMaxMS)
}

// TypingDuration returns how long a synthetic actor types before posting.
func (c *Config) TypingDuration() time.Duration { return ms(c.TypingDurationMS) }

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration { return ms(c.ShutdownTimeoutMS) }

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
