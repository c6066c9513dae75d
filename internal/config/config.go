// Package config loads and validates the execution core's configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration tree (SPEC_FULL §2 ambient stack).
type Config struct {
	App            AppConfig            `yaml:"app"`
	Store          StoreConfig          `yaml:"store"`
	Redis          RedisConfig          `yaml:"redis"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	RateLimiter    RateLimiterConfig    `yaml:"rate_limiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Stream         StreamConfig         `yaml:"stream"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Risk           RiskConfig           `yaml:"risk"`
	Portfolio      PortfolioConfig      `yaml:"portfolio"`
	Admission      AdmissionConfig      `yaml:"admission"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	LogLevel      string `yaml:"log_level"`
	HealthPort    int    `yaml:"health_port"`
	MetricsPort   int    `yaml:"metrics_port"`
}

// StoreConfig selects and configures the Durable Store driver (spec §4.A).
type StoreConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "sqlite"
	DSN      string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
}

// RedisConfig configures the cluster-visible KV store backing the
// kill-switch, risk approval cache, and idempotency store (spec §4.B/§4.C/§4.I).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password Secret `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ExchangeConfig holds exchange credentials and endpoints (spec §6).
type ExchangeConfig struct {
	Name      string `yaml:"name"`
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`
}

// RateLimiterConfig mirrors spec §6's rateLimiter.* block.
type RateLimiterConfig struct {
	Capacity     int `yaml:"capacity" default:"50"`
	RefillPerSec int `yaml:"refill_per_sec" default:"5"`
	MaxQueueSize int `yaml:"max_queue_size" default:"100"`
	MaxWaitMs    int `yaml:"max_wait_ms" default:"30000"`
}

// CircuitBreakerConfig mirrors spec §6's circuitBreaker.* block.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" default:"5"`
	SuccessThreshold int `yaml:"success_threshold" default:"3"`
	TimeoutMs        int `yaml:"timeout_ms" default:"30000"`
	WindowSize       int `yaml:"window_size" default:"10"`
}

// StreamConfig mirrors spec §6's stream.* block.
type StreamConfig struct {
	PingMs               int `yaml:"ping_ms" default:"10000"`
	ReconnectBaseMs      int `yaml:"reconnect_base_ms" default:"1000"`
	ReconnectMaxMs       int `yaml:"reconnect_max_ms" default:"32000"`
	ConnectTimeoutMs     int `yaml:"connect_timeout_ms" default:"30000"`
	ListenKeyRefreshMs   int `yaml:"listen_key_refresh_ms" default:"1800000"`
}

// ReconciliationConfig mirrors spec §6's reconciliation.* block.
type ReconciliationConfig struct {
	IntervalMs         int `yaml:"interval_ms" default:"60000"`
	LookbackHours      int `yaml:"lookback_hours" default:"24"`
	SubmissionTimeoutMs int `yaml:"submission_timeout_ms" default:"300000"`
	WorkerPoolSize     int `yaml:"worker_pool_size" default:"8"`
}

// RiskConfig mirrors spec §6's risk.* block.
type RiskConfig struct {
	ApprovalTTLSec int `yaml:"approval_ttl_sec" default:"10"`
}

// PortfolioConfig mirrors spec §6's portfolio.* block.
type PortfolioConfig struct {
	StalenessSec   int `yaml:"staleness_sec" default:"5"`
	BatchSize      int `yaml:"batch_size" default:"100"`
	TickIntervalMs int `yaml:"tick_interval_ms" default:"1000"`
	WorkerPoolSize int `yaml:"worker_pool_size" default:"8"`
}

// AdmissionConfig mirrors spec §4.I's idempotency-key contract.
type AdmissionConfig struct {
	IdempotencyTTLSec int `yaml:"idempotency_ttl_sec" default:"86400"`
}

// TelemetryConfig toggles the OTel/Prometheus stack.
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Load reads, expands, and validates the configuration at filename.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "INFO"
	}
	if c.App.HealthPort == 0 {
		c.App.HealthPort = 8080
	}
	if c.App.MetricsPort == 0 {
		c.App.MetricsPort = 9090
	}
	if c.RateLimiter.Capacity == 0 {
		c.RateLimiter.Capacity = 50
	}
	if c.RateLimiter.RefillPerSec == 0 {
		c.RateLimiter.RefillPerSec = 5
	}
	if c.RateLimiter.MaxQueueSize == 0 {
		c.RateLimiter.MaxQueueSize = 100
	}
	if c.RateLimiter.MaxWaitMs == 0 {
		c.RateLimiter.MaxWaitMs = 30000
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 3
	}
	if c.CircuitBreaker.TimeoutMs == 0 {
		c.CircuitBreaker.TimeoutMs = 30000
	}
	if c.CircuitBreaker.WindowSize == 0 {
		c.CircuitBreaker.WindowSize = 10
	}
	if c.Stream.PingMs == 0 {
		c.Stream.PingMs = 10000
	}
	if c.Stream.ReconnectBaseMs == 0 {
		c.Stream.ReconnectBaseMs = 1000
	}
	if c.Stream.ReconnectMaxMs == 0 {
		c.Stream.ReconnectMaxMs = 32000
	}
	if c.Stream.ConnectTimeoutMs == 0 {
		c.Stream.ConnectTimeoutMs = 30000
	}
	if c.Stream.ListenKeyRefreshMs == 0 {
		c.Stream.ListenKeyRefreshMs = 1800000
	}
	if c.Reconciliation.IntervalMs == 0 {
		c.Reconciliation.IntervalMs = 60000
	}
	if c.Reconciliation.LookbackHours == 0 {
		c.Reconciliation.LookbackHours = 24
	}
	if c.Reconciliation.SubmissionTimeoutMs == 0 {
		c.Reconciliation.SubmissionTimeoutMs = 300000
	}
	if c.Reconciliation.WorkerPoolSize == 0 {
		c.Reconciliation.WorkerPoolSize = 8
	}
	if c.Risk.ApprovalTTLSec == 0 {
		c.Risk.ApprovalTTLSec = 10
	}
	if c.Portfolio.StalenessSec == 0 {
		c.Portfolio.StalenessSec = 5
	}
	if c.Portfolio.BatchSize == 0 {
		c.Portfolio.BatchSize = 100
	}
	if c.Portfolio.TickIntervalMs == 0 {
		c.Portfolio.TickIntervalMs = 1000
	}
	if c.Portfolio.WorkerPoolSize == 0 {
		c.Portfolio.WorkerPoolSize = 8
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Admission.IdempotencyTTLSec == 0 {
		c.Admission.IdempotencyTTLSec = 86400
	}
}

// Validate checks every section for internally-consistent, in-range values.
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		errs = append(errs, ValidationError{"store.driver", c.Store.Driver, "must be postgres or sqlite"}.Error())
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errs = append(errs, ValidationError{"store.dsn", "", "required when driver=postgres"}.Error())
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, ValidationError{"store.sqlite_path", "", "required when driver=sqlite"}.Error())
	}
	if !contains([]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}, strings.ToUpper(c.App.LogLevel)) {
		errs = append(errs, ValidationError{"app.log_level", c.App.LogLevel, "must be DEBUG|INFO|WARN|ERROR|FATAL"}.Error())
	}
	if c.RateLimiter.Capacity <= 0 {
		errs = append(errs, ValidationError{"rate_limiter.capacity", c.RateLimiter.Capacity, "must be > 0"}.Error())
	}
	if c.RateLimiter.RefillPerSec <= 0 {
		errs = append(errs, ValidationError{"rate_limiter.refill_per_sec", c.RateLimiter.RefillPerSec, "must be > 0"}.Error())
	}
	if c.CircuitBreaker.WindowSize <= 0 {
		errs = append(errs, ValidationError{"circuit_breaker.window_size", c.CircuitBreaker.WindowSize, "must be > 0"}.Error())
	}
	if c.CircuitBreaker.FailureThreshold > c.CircuitBreaker.WindowSize {
		errs = append(errs, ValidationError{"circuit_breaker.failure_threshold", c.CircuitBreaker.FailureThreshold, "cannot exceed window_size"}.Error())
	}
	if c.Risk.ApprovalTTLSec <= 0 || c.Risk.ApprovalTTLSec > 10 {
		errs = append(errs, ValidationError{"risk.approval_ttl_sec", c.Risk.ApprovalTTLSec, "must be in (0, 10]"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Duration helpers translate the *Ms fields into time.Duration at call sites.
func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c RateLimiterConfig) MaxWait() time.Duration        { return ms(c.MaxWaitMs) }
func (c CircuitBreakerConfig) Timeout() time.Duration     { return ms(c.TimeoutMs) }
func (c StreamConfig) PingInterval() time.Duration        { return ms(c.PingMs) }
func (c StreamConfig) ReconnectBase() time.Duration       { return ms(c.ReconnectBaseMs) }
func (c StreamConfig) ReconnectMax() time.Duration        { return ms(c.ReconnectMaxMs) }
func (c StreamConfig) ConnectTimeout() time.Duration      { return ms(c.ConnectTimeoutMs) }
func (c StreamConfig) ListenKeyRefresh() time.Duration    { return ms(c.ListenKeyRefreshMs) }
func (c ReconciliationConfig) Interval() time.Duration    { return ms(c.IntervalMs) }
func (c ReconciliationConfig) Lookback() time.Duration    { return time.Duration(c.LookbackHours) * time.Hour }
func (c ReconciliationConfig) SubmissionTimeout() time.Duration { return ms(c.SubmissionTimeoutMs) }
func (c RiskConfig) ApprovalTTL() time.Duration           { return time.Duration(c.ApprovalTTLSec) * time.Second }
func (c PortfolioConfig) Staleness() time.Duration        { return time.Duration(c.StalenessSec) * time.Second }
func (c PortfolioConfig) TickInterval() time.Duration     { return ms(c.TickIntervalMs) }
func (c AdmissionConfig) IdempotencyTTL() time.Duration   { return time.Duration(c.IdempotencyTTLSec) * time.Second }
