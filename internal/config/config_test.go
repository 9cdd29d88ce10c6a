package config_test

import (
	"testing"
	"time"

	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/internal/config"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/maxatome/go-testdeep/td"
)

func TestLoadDefaults(t *testing.T) {
	// Act
	cfg, err := config.Load()

	// Assert
	td.Require(t).CmpNoError(err)
	td.Cmp(t, cfg.HTTPPort, 0)
	td.Cmp(t, cfg.GRPCPort, 0)
	td.Cmp(t, cfg.Redis.LockTTL, time.Hour)
	td.Cmp(t, cfg.Bus, config.BusMemory)
	td.Cmp(t, cfg.Lock, config.LockMemory)
	td.Cmp(t, cfg.Sink, config.SinkSQLite)
	td.Cmp(t, cfg.Timeouts.Shutdown, 30*time.Second)
	td.Cmp(t, cfg.Monitor.Interval, 30*time.Second)
	td.CmpFalse(t, cfg.UsesRedis())
	td.Cmp(t, cfg.Topology(), lanes.TopologyConfig{
		PoolThreads:                4,
		ThresholdThreads:           4,
		MetricThreads:              4,
		SamplingUncertaintyThreads: 2,
		ProductThreads:             2,
	})
}

func TestLoadFromEnvironment(t *testing.T) {
	// Arrange
	t.Setenv("EVALPIPE_HTTP_PORT", "8080")
	t.Setenv("EVALPIPE_GRPC_PORT", "9090")
	t.Setenv("EVALPIPE_BUS", "redis")
	t.Setenv("EVALPIPE_SINK", "redis")
	t.Setenv("EVALPIPE_POOL_THREADS", "8")
	t.Setenv("EVALPIPE_SAMPLING_THREADS", "0")
	t.Setenv("EVALPIPE_EVALUATION_TIMEOUT", "2m")
	t.Setenv("REDIS_ADDR", "redis:6379")

	// Act
	cfg, err := config.Load()

	// Assert
	td.Require(t).CmpNoError(err)
	td.Cmp(t, cfg.GetHTTPAddr(), ":8080")
	td.Cmp(t, cfg.GetGRPCAddr(), ":9090")
	td.CmpTrue(t, cfg.UsesRedis())
	td.Cmp(t, cfg.Redis.Addr, "redis:6379")
	td.Cmp(t, cfg.Timeouts.Evaluation, 2*time.Minute)
	td.Cmp(t, cfg.Topology().PoolThreads, 8)
	td.Cmp(t, cfg.Topology().SamplingUncertaintyThreads, 0)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unparsable value",
			env:     map[string]string{"EVALPIPE_POOL_THREADS": "many"},
			wantErr: "failed to parse config",
		},
		{
			name:    "port out of range",
			env:     map[string]string{"EVALPIPE_HTTP_PORT": "70000"},
			wantErr: "invalid HTTP port: 70000",
		},
		{
			name:    "empty pool lane",
			env:     map[string]string{"EVALPIPE_POOL_THREADS": "0"},
			wantErr: "pool lane needs at least one thread",
		},
		{
			name:    "gRPC port out of range",
			env:     map[string]string{"EVALPIPE_GRPC_PORT": "-1"},
			wantErr: "invalid gRPC port: -1",
		},
		{
			name:    "shared API port",
			env:     map[string]string{"EVALPIPE_HTTP_PORT": "8080", "EVALPIPE_GRPC_PORT": "8080"},
			wantErr: "HTTP and gRPC ports must differ: 8080",
		},
		{
			name:    "zero redis lock TTL",
			env:     map[string]string{"EVALPIPE_LOCK": "redis", "EVALPIPE_LOCK_TTL": "0s"},
			wantErr: "lock TTL must be positive for the redis lock",
		},
		{
			name:    "negative statistics TTL",
			env:     map[string]string{"EVALPIPE_SINK": "redis", "EVALPIPE_STATISTICS_TTL": "-1h"},
			wantErr: "statistics TTL must not be negative",
		},
		{
			name:    "unknown bus",
			env:     map[string]string{"EVALPIPE_BUS": "kafka"},
			wantErr: "unsupported bus: kafka",
		},
		{
			name:    "unknown sink",
			env:     map[string]string{"EVALPIPE_SINK": "postgres"},
			wantErr: "unsupported sink: postgres",
		},
		{
			name:    "zero shutdown timeout",
			env:     map[string]string{"EVALPIPE_SHUTDOWN_TIMEOUT": "0s"},
			wantErr: "shutdown timeout must be positive",
		},
		{
			name:    "unknown log level",
			env:     map[string]string{"LOG_LEVEL": "trace"},
			wantErr: "invalid log level: trace",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()

			td.CmpTrue(t, domain.IsUserInput(err))
			td.CmpContains(t, err, tt.wantErr)
		})
	}
}

func TestMemoryLockIgnoresLockTTL(t *testing.T) {
	t.Setenv("EVALPIPE_LOCK_TTL", "0s")

	cfg, err := config.Load()

	td.Require(t).CmpNoError(err)
	td.Cmp(t, cfg.Lock, config.LockMemory)
}
