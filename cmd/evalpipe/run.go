package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aescanero/evalpipe/internal/application/cancel"
	"github.com/aescanero/evalpipe/internal/application/evaluation"
	"github.com/aescanero/evalpipe/internal/config"
	"github.com/aescanero/evalpipe/pkg/adapters/events/memory"
	"github.com/aescanero/evalpipe/pkg/adapters/events/redis"
	lockmemory "github.com/aescanero/evalpipe/pkg/adapters/lock/memory"
	lockredis "github.com/aescanero/evalpipe/pkg/adapters/lock/redis"
	"github.com/aescanero/evalpipe/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/evalpipe/pkg/adapters/source"
	storememory "github.com/aescanero/evalpipe/pkg/adapters/storage/memory"
	storeredis "github.com/aescanero/evalpipe/pkg/adapters/storage/redis"
	"github.com/aescanero/evalpipe/pkg/adapters/storage/sqlite"
	"github.com/aescanero/evalpipe/pkg/api/grpc"
	"github.com/aescanero/evalpipe/pkg/api/http"
	"github.com/aescanero/evalpipe/pkg/api/websocket"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/aescanero/evalpipe/pkg/statistics"
	"github.com/google/uuid"
	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	id        string
	outputDir string
	noColor   bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Run the evaluation declared in a plan",
		Example: `  # Run with the defaults: in-memory bus, statistics stored in statistics.db
  evalpipe run plan.yaml

  # Publish on Redis streams and serve the status API
  EVALPIPE_BUS=redis EVALPIPE_HTTP_PORT=8080 evalpipe run plan.yaml

  # Serve the gRPC health service while the evaluation runs
  EVALPIPE_GRPC_PORT=9090 evalpipe run plan.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.outputDir != "" {
				cfg.Output.Dir = opts.outputDir
			}

			logger := initLogger(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			result, err := runEvaluation(cmd.Context(), cfg, args[0], opts.id, nil, logger)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), result, opts.noColor)
			return result.Err
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Evaluation id (random when empty)")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "Directory receiving written pairs (overrides EVALPIPE_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

// runEvaluation wires the adapters chosen by cfg and runs the plan. Metrics go
// to registry, or to the default registry when nil. An error is returned only
// when the evaluation could not be set up.
func runEvaluation(ctx context.Context, cfg *config.Config, planPath, id string, registry *promclient.Registry, logger *zap.Logger) (evaluation.ExecutionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	plan, err := evaluation.LoadPlan(planPath)
	if err != nil {
		return evaluation.ExecutionResult{}, err
	}

	sourcePath := plan.Source.Path
	if !filepath.IsAbs(sourcePath) {
		sourcePath = filepath.Join(filepath.Dir(planPath), sourcePath)
	}
	src, err := source.Load(sourcePath)
	if err != nil {
		return evaluation.ExecutionResult{}, err
	}
	if plan.Baseline && !src.HasBaseline() {
		return evaluation.ExecutionResult{}, domain.NewUserInputError(
			fmt.Sprintf("plan declares a baseline but %s has no baseline column", sourcePath), nil)
	}

	calculators, err := statistics.ByName(plan.Metrics)
	if err != nil {
		return evaluation.ExecutionResult{}, domain.NewUserInputError("invalid metrics", err)
	}

	if id == "" {
		id = uuid.NewString()
	}
	logger.Info("starting evalpipe",
		zap.String("version", Version),
		zap.String("evaluation_id", id),
		zap.String("plan", planPath))

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient, err = connectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return evaluation.ExecutionResult{}, err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		}()
	}

	var bus ports.Bus
	switch cfg.Bus {
	case config.BusRedis:
		bus = redis.NewStreamsBus(redisClient, id, cfg.Redis.ConsumerGroup, cfg.Redis.ConsumerName, logger)
	default:
		bus = memory.NewBus(id, logger)
	}

	var lock ports.AdvisoryLock
	switch cfg.Lock {
	case config.LockRedis:
		lock = lockredis.NewSharedLock(redisClient, cfg.Redis.LockKey, cfg.Redis.LockTTL, logger)
	default:
		lock = lockmemory.NewSharedLock()
	}

	sink, err := openSink(ctx, cfg, redisClient, logger)
	if err != nil {
		return evaluation.ExecutionResult{}, err
	}
	if sink != nil {
		// the product consumer closes the sink too; closing twice is harmless
		defer func() { _ = sink.Close() }()
	}

	var (
		registerer = promclient.DefaultRegisterer
		gatherer   promclient.Gatherer
	)
	if registry != nil {
		registerer, gatherer = registry, registry
	}

	canceller := cancel.NewCanceller(logger)
	eval, err := evaluation.New(plan, evaluation.Dependencies{
		Bus:         bus,
		Lock:        lock,
		Computer:    src.Compute,
		Calculators: calculators,
		Sink:        sink,
		Metrics:     prometheus.NewCollector(registerer),
		Logger:      logger,
	}, evaluation.Options{
		ID:              id,
		Topology:        cfg.Topology(),
		ShutdownTimeout: cfg.Timeouts.Shutdown,
		Timeout:         cfg.Timeouts.Evaluation,
		MonitorInterval: cfg.Monitor.Interval,
		OutputDir:       cfg.Output.Dir,
	}, canceller)
	if err != nil {
		return evaluation.ExecutionResult{}, err
	}

	if cfg.HTTPPort > 0 {
		server := http.NewServer(&http.Config{
			Port:       cfg.HTTPPort,
			Evaluation: eval,
			Gatherer:   gatherer,
			Logger:     logger,
		})
		server.SetupWebSocket(websocket.NewHandler(bus, logger).HandleEvaluationStream)

		go func() {
			if err := server.Start(); err != nil {
				logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", zap.Error(err))
			}
		}()
	}

	if cfg.GRPCPort > 0 {
		grpcServer, err := grpc.NewServer(&grpc.Config{
			Port:       cfg.GRPCPort,
			Evaluation: eval,
			Logger:     logger,
		})
		if err != nil {
			return evaluation.ExecutionResult{}, domain.NewInternalError("failed to create gRPC server", err)
		}

		go func() {
			if err := grpcServer.Start(); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := grpcServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("gRPC server shutdown error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		if _, ok := <-sigCh; ok {
			logger.Info("received shutdown signal, cancelling evaluation")
			_ = eval.Cancel()
		}
	}()

	return eval.Run(ctx), nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.NewInternalError("failed to connect to Redis", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Addr))
	return client, nil
}

// openSink returns the statistics sink chosen by cfg, or nil when none is
func openSink(ctx context.Context, cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.StatisticsSink, error) {
	switch cfg.Sink {
	case config.SinkSQLite:
		store, err := sqlite.NewStore(ctx, cfg.Output.StatisticsDB, logger)
		if err != nil {
			return nil, domain.NewInternalError("failed to open statistics database", err)
		}
		return store, nil
	case config.SinkRedis:
		return storeredis.NewStatisticsStore(client, cfg.Redis.StatisticsTTL, logger), nil
	case config.SinkMemory:
		return storememory.NewStore(), nil
	default:
		return nil, nil
	}
}
