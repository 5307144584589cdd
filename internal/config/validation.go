package config

import "fmt"

func validateConfig(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", cfg.LogLevel)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if err := validateDetection(&cfg.Detection); err != nil {
		return err
	}
	if cfg.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be >= 1")
	}
	if cfg.CircuitBreaker.RecoveryTimeoutMS <= 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout_ms must be positive")
	}
	if cfg.CircuitBreaker.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("circuit_breaker.half_open_max_calls must be >= 1")
	}
	if cfg.CircuitBreaker.CallTimeoutMS <= 0 {
		return fmt.Errorf("circuit_breaker.call_timeout_ms must be positive")
	}
	if cfg.Retention.EventDays < 1 || cfg.Retention.SnapshotDays < 1 {
		return fmt.Errorf("retention windows must be at least one day")
	}
	if cfg.Subscriptions.PollIntervalSeconds < 1 {
		return fmt.Errorf("subscriptions.poll_interval must be >= 1s")
	}
	return nil
}

func validateDetection(d *DetectionConfig) error {
	if d.IntervalSeconds < 1 {
		return fmt.Errorf("detection.interval must be >= 1s")
	}
	if d.CycleTimeoutSeconds < 1 {
		return fmt.Errorf("detection.cycle_timeout must be >= 1s")
	}
	if d.QueryTimeoutSeconds < 1 {
		return fmt.Errorf("detection.query_timeout must be >= 1s")
	}
	if d.QueryTimeoutSeconds > d.CycleTimeoutSeconds {
		return fmt.Errorf("detection.query_timeout cannot exceed detection.cycle_timeout")
	}
	if d.LookbackMinutes < 1 {
		return fmt.Errorf("detection.lookback_minutes must be >= 1")
	}
	if d.TransactionFailure.ConsecutiveThreshold < 2 {
		return fmt.Errorf("detection.transaction_failure.consecutive_threshold must be >= 2")
	}
	if d.TransactionFailure.FailureRatePct <= 0 || d.TransactionFailure.FailureRatePct > 100 {
		return fmt.Errorf("detection.transaction_failure.failure_rate_pct must be in (0,100]")
	}
	if d.TransactionFailure.MinSampleSize < 1 {
		return fmt.Errorf("detection.transaction_failure.min_sample_size must be >= 1")
	}
	if d.BalanceDiscrepancy.ThresholdCents < 0 {
		return fmt.Errorf("detection.balance_discrepancy.threshold_cents cannot be negative")
	}
	if d.DuplicateNFC.WindowSeconds < 1 {
		return fmt.Errorf("detection.duplicate_nfc.window_seconds must be >= 1")
	}
	if d.RaceCondition.WindowSeconds < 1 {
		return fmt.Errorf("detection.race_condition.window_seconds must be >= 1")
	}
	if d.RaceCondition.MinOverlap < 2 {
		return fmt.Errorf("detection.race_condition.min_overlap must be >= 2")
	}
	return nil
}
