package config

import "time"

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Cache          CacheConfig          `mapstructure:"cache" yaml:"cache"`
	Detection      DetectionConfig      `mapstructure:"detection" yaml:"detection"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Retention      RetentionConfig      `mapstructure:"retention" yaml:"retention"`
	Subscriptions  SubscriptionsConfig  `mapstructure:"subscriptions" yaml:"subscriptions"`
	CORS           CORSConfig           `mapstructure:"cors" yaml:"cors"`
}

// DatabaseConfig points at the payment platform's Postgres instance. The
// core only reads ledger tables and writes monitoring tables there.
type DatabaseConfig struct {
	DSN           string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns  int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns  int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	NotifyChannel string `mapstructure:"notify_channel" yaml:"notify_channel"`
}

// CacheConfig selects between a shared Valkey/Redis cache (nodes set) and
// the in-process LRU cache (nodes empty). TTLs vary by read volatility.
type CacheConfig struct {
	Nodes               []string `mapstructure:"nodes" yaml:"nodes"`
	DB                  int      `mapstructure:"db" yaml:"db"`
	Password            string   `mapstructure:"password" yaml:"password"`
	MaxEntries          int      `mapstructure:"max_entries" yaml:"max_entries"`
	DefaultTTLSeconds   int      `mapstructure:"default_ttl" yaml:"default_ttl"`
	HealthTTLSeconds    int      `mapstructure:"health_ttl" yaml:"health_ttl"`
	DashboardTTLSeconds int      `mapstructure:"dashboard_ttl" yaml:"dashboard_ttl"`
	EventsTTLSeconds    int      `mapstructure:"events_ttl" yaml:"events_ttl"`
}

func (c CacheConfig) DefaultTTL() time.Duration   { return time.Duration(c.DefaultTTLSeconds) * time.Second }
func (c CacheConfig) HealthTTL() time.Duration    { return time.Duration(c.HealthTTLSeconds) * time.Second }
func (c CacheConfig) DashboardTTL() time.Duration { return time.Duration(c.DashboardTTLSeconds) * time.Second }
func (c CacheConfig) EventsTTL() time.Duration    { return time.Duration(c.EventsTTLSeconds) * time.Second }

// DetectionConfig carries cycle scheduling plus per-algorithm thresholds.
// Thresholds are hot-reloadable; the scheduler interval is not.
type DetectionConfig struct {
	IntervalSeconds     int `mapstructure:"interval" yaml:"interval"`
	CycleTimeoutSeconds int `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
	QueryTimeoutSeconds int `mapstructure:"query_timeout" yaml:"query_timeout"`
	LookbackMinutes     int `mapstructure:"lookback_minutes" yaml:"lookback_minutes"`

	TransactionFailure TransactionFailureConfig `mapstructure:"transaction_failure" yaml:"transaction_failure"`
	BalanceDiscrepancy BalanceDiscrepancyConfig `mapstructure:"balance_discrepancy" yaml:"balance_discrepancy"`
	DuplicateNFC       DuplicateNFCConfig       `mapstructure:"duplicate_nfc" yaml:"duplicate_nfc"`
	RaceCondition      RaceConditionConfig      `mapstructure:"race_condition" yaml:"race_condition"`
}

func (d DetectionConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

func (d DetectionConfig) CycleTimeout() time.Duration {
	return time.Duration(d.CycleTimeoutSeconds) * time.Second
}

func (d DetectionConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutSeconds) * time.Second
}

func (d DetectionConfig) Lookback() time.Duration {
	return time.Duration(d.LookbackMinutes) * time.Minute
}

type TransactionFailureConfig struct {
	ConsecutiveThreshold int     `mapstructure:"consecutive_threshold" yaml:"consecutive_threshold"`
	FailureRatePct       float64 `mapstructure:"failure_rate_pct" yaml:"failure_rate_pct"`
	MinSampleSize        int     `mapstructure:"min_sample_size" yaml:"min_sample_size"`
	WindowMinutes        int     `mapstructure:"window_minutes" yaml:"window_minutes"`
}

type BalanceDiscrepancyConfig struct {
	ThresholdCents int64 `mapstructure:"threshold_cents" yaml:"threshold_cents"`
}

type DuplicateNFCConfig struct {
	WindowSeconds int `mapstructure:"window_seconds" yaml:"window_seconds"`
}

func (d DuplicateNFCConfig) Window() time.Duration {
	return time.Duration(d.WindowSeconds) * time.Second
}

type RaceConditionConfig struct {
	WindowSeconds int `mapstructure:"window_seconds" yaml:"window_seconds"`
	MinOverlap    int `mapstructure:"min_overlap" yaml:"min_overlap"`
}

func (r RaceConditionConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// CircuitBreakerConfig guards detection cycles against a failing datastore.
type CircuitBreakerConfig struct {
	FailureThreshold  int   `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeoutMS int64 `mapstructure:"recovery_timeout_ms" yaml:"recovery_timeout_ms"`
	HalfOpenMaxCalls  int   `mapstructure:"half_open_max_calls" yaml:"half_open_max_calls"`
	CallTimeoutMS     int64 `mapstructure:"call_timeout_ms" yaml:"call_timeout_ms"`
}

func (c CircuitBreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutMS) * time.Millisecond
}

func (c CircuitBreakerConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// RetentionConfig bounds how long durable artifacts are kept.
type RetentionConfig struct {
	EventDays          int `mapstructure:"event_days" yaml:"event_days"`
	SnapshotDays       int `mapstructure:"snapshot_days" yaml:"snapshot_days"`
	AlertHistoryDays   int `mapstructure:"alert_history_days" yaml:"alert_history_days"`
	SweepIntervalHours int `mapstructure:"sweep_interval_hours" yaml:"sweep_interval_hours"`
}

func (r RetentionConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalHours) * time.Hour
}

// SubscriptionsConfig controls event delivery to subscribers.
type SubscriptionsConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval" yaml:"poll_interval"`
}

func (s SubscriptionsConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
}
