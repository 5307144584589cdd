package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration with priority order:
// 1. Environment variables (PAYFLUX_ prefix)
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/payflux/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PAYFLUX")

	setDefaults(v)
	return v
}

// Watcher re-reads detection thresholds when the config file changes on
// disk. Only DetectionConfig is hot-reloaded; interval and transport
// settings require a restart.
type Watcher struct {
	mu        sync.RWMutex
	detection DetectionConfig
}

// NewWatcher starts watching the config file and returns an accessor for
// the current detection thresholds.
func NewWatcher(initial DetectionConfig, onChange func(DetectionConfig)) *Watcher {
	w := &Watcher{detection: initial}

	v := newViper()
	if err := v.ReadInConfig(); err == nil {
		v.OnConfigChange(func(_ fsnotify.Event) {
			var cfg Config
			if err := v.Unmarshal(&cfg); err != nil {
				return
			}
			if err := validateDetection(&cfg.Detection); err != nil {
				return
			}
			w.mu.Lock()
			w.detection = cfg.Detection
			w.mu.Unlock()
			if onChange != nil {
				onChange(cfg.Detection)
			}
		})
		v.WatchConfig()
	}

	return w
}

// Detection returns the current (possibly hot-reloaded) detection config.
func (w *Watcher) Detection() DetectionConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.detection
}

// setDefaults sets reasonable default values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	// Database defaults
	v.SetDefault("database.dsn", "postgres://localhost:5432/payflux?sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.notify_channel", "payflux_events")

	// Cache defaults: empty nodes list selects the in-process LRU cache
	v.SetDefault("cache.nodes", []string{})
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.default_ttl", 300)
	v.SetDefault("cache.health_ttl", 60)
	v.SetDefault("cache.dashboard_ttl", 30)
	v.SetDefault("cache.events_ttl", 300)

	// Detection defaults
	v.SetDefault("detection.interval", 30)
	v.SetDefault("detection.cycle_timeout", 30)
	v.SetDefault("detection.query_timeout", 10)
	v.SetDefault("detection.lookback_minutes", 60)
	v.SetDefault("detection.transaction_failure.consecutive_threshold", 3)
	v.SetDefault("detection.transaction_failure.failure_rate_pct", 10.0)
	v.SetDefault("detection.transaction_failure.min_sample_size", 20)
	v.SetDefault("detection.transaction_failure.window_minutes", 15)
	v.SetDefault("detection.balance_discrepancy.threshold_cents", 100)
	v.SetDefault("detection.duplicate_nfc.window_seconds", 5)
	v.SetDefault("detection.race_condition.window_seconds", 2)
	v.SetDefault("detection.race_condition.min_overlap", 2)

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout_ms", 60000)
	v.SetDefault("circuit_breaker.half_open_max_calls", 3)
	v.SetDefault("circuit_breaker.call_timeout_ms", 30000)

	// Retention defaults
	v.SetDefault("retention.event_days", 30)
	v.SetDefault("retention.snapshot_days", 30)
	v.SetDefault("retention.alert_history_days", 90)
	v.SetDefault("retention.sweep_interval_hours", 24)

	// Subscription defaults
	v.SetDefault("subscriptions.poll_interval", 10)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization"})
}
