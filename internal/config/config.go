package config

import (
	"fmt"
	"time"

	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/caarlos0/env/v10"
)

// Bus backends
const (
	BusMemory = "memory"
	BusRedis  = "redis"
)

// Statistics sinks
const (
	SinkNone   = "none"
	SinkMemory = "memory"
	SinkSQLite = "sqlite"
	SinkRedis  = "redis"
)

// Lock backends
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config holds all configuration for an evalpipe run
type Config struct {
	// HTTPPort serves the status API; 0 disables it
	HTTPPort int `env:"EVALPIPE_HTTP_PORT" envDefault:"0"`
	// GRPCPort serves the gRPC health service; 0 disables it
	GRPCPort int    `env:"EVALPIPE_GRPC_PORT" envDefault:"0"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Lanes    LaneConfig
	Bus      string `env:"EVALPIPE_BUS" envDefault:"memory"`
	Lock     string `env:"EVALPIPE_LOCK" envDefault:"memory"`
	Sink     string `env:"EVALPIPE_SINK" envDefault:"sqlite"`
	Redis    RedisConfig
	Timeouts TimeoutConfig
	Monitor  MonitorConfig
	Output   OutputConfig
}

// LaneConfig sizes the executor lanes
type LaneConfig struct {
	PoolThreads      int `env:"EVALPIPE_POOL_THREADS" envDefault:"4"`
	ThresholdThreads int `env:"EVALPIPE_THRESHOLD_THREADS" envDefault:"4"`
	MetricThreads    int `env:"EVALPIPE_METRIC_THREADS" envDefault:"4"`
	SamplingThreads  int `env:"EVALPIPE_SAMPLING_THREADS" envDefault:"2"`
	ProductThreads   int `env:"EVALPIPE_PRODUCT_THREADS" envDefault:"2"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// ConsumerGroup prefixes the per-subscription consumer groups of the bus
	ConsumerGroup string `env:"EVALPIPE_CONSUMER_GROUP" envDefault:"evalpipe"`
	ConsumerName  string `env:"EVALPIPE_CONSUMER_NAME" envDefault:"evalpipe-1"`

	// LockKey names the shared advisory lock
	LockKey string        `env:"EVALPIPE_LOCK_KEY" envDefault:"evalpipe:lock"`
	LockTTL time.Duration `env:"EVALPIPE_LOCK_TTL" envDefault:"1h"`

	// StatisticsTTL expires statistics stored by the redis sink
	StatisticsTTL time.Duration `env:"EVALPIPE_STATISTICS_TTL" envDefault:"24h"`
}

// TimeoutConfig holds the run timeouts
type TimeoutConfig struct {
	// Evaluation bounds a whole run; 0 means no limit
	Evaluation time.Duration `env:"EVALPIPE_EVALUATION_TIMEOUT" envDefault:"0s"`
	Shutdown   time.Duration `env:"EVALPIPE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// MonitorConfig configures the lane queue monitor
type MonitorConfig struct {
	// Interval between checks; 0 disables the monitor
	Interval time.Duration `env:"EVALPIPE_MONITOR_INTERVAL" envDefault:"30s"`
}

// OutputConfig locates what an evaluation writes
type OutputConfig struct {
	Dir          string `env:"EVALPIPE_OUTPUT_DIR" envDefault:"."`
	StatisticsDB string `env:"EVALPIPE_STATISTICS_DB" envDefault:"statistics.db"`
}

// Load reads configuration from environment variables. Every failure is a
// user input error.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, domain.NewUserInputError("failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.NewUserInputError("invalid config", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.HTTPPort > 0 && c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort)
	}

	if err := c.Topology().Validate(); err != nil {
		return err
	}

	switch c.Bus {
	case BusMemory, BusRedis:
	default:
		return fmt.Errorf("unsupported bus: %s (must be memory or redis)", c.Bus)
	}
	switch c.Lock {
	case LockMemory, LockRedis:
	default:
		return fmt.Errorf("unsupported lock: %s (must be memory or redis)", c.Lock)
	}
	switch c.Sink {
	case SinkNone, SinkMemory, SinkSQLite, SinkRedis:
	default:
		return fmt.Errorf("unsupported sink: %s (must be none, memory, sqlite or redis)", c.Sink)
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Lock == LockRedis && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive for the redis lock")
	}
	if c.Sink == SinkRedis && c.Redis.StatisticsTTL < 0 {
		return fmt.Errorf("statistics TTL must not be negative")
	}
	if c.Sink == SinkSQLite && c.Output.StatisticsDB == "" {
		return fmt.Errorf("statistics database path is required for the sqlite sink")
	}

	if c.Timeouts.Evaluation < 0 {
		return fmt.Errorf("evaluation timeout must not be negative")
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.Monitor.Interval < 0 {
		return fmt.Errorf("monitor interval must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Topology returns the lane sizes
func (c *Config) Topology() lanes.TopologyConfig {
	return lanes.TopologyConfig{
		PoolThreads:                c.Lanes.PoolThreads,
		ThresholdThreads:           c.Lanes.ThresholdThreads,
		MetricThreads:              c.Lanes.MetricThreads,
		SamplingUncertaintyThreads: c.Lanes.SamplingThreads,
		ProductThreads:             c.Lanes.ProductThreads,
	}
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Bus == BusRedis || c.Lock == LockRedis || c.Sink == SinkRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
