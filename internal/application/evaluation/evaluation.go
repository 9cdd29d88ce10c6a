package evaluation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/internal/application/cancel"
	"github.com/aescanero/evalpipe/internal/application/groups"
	"github.com/aescanero/evalpipe/internal/application/lanes"
	"github.com/aescanero/evalpipe/internal/application/pooling"
	"github.com/aescanero/evalpipe/internal/application/products"
	"github.com/aescanero/evalpipe/pkg/adapters/pairs"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dependencies are the collaborators of an evaluation
type Dependencies struct {
	// Bus must be dedicated to this evaluation
	Bus         ports.Bus
	Lock        ports.AdvisoryLock
	Computer    ports.PoolComputer
	Calculators []ports.StatisticsCalculator
	// Sink enables the internal product consumer when set
	Sink    ports.StatisticsSink
	Metrics ports.MetricsCollector
	Logger  *zap.Logger
}

// Options tune one run
type Options struct {
	// ID identifies the evaluation; a random id is drawn when empty
	ID              string
	Topology        lanes.TopologyConfig
	ShutdownTimeout time.Duration
	// Timeout bounds the whole run; zero means no limit
	Timeout time.Duration
	// MonitorInterval enables the lane monitor when positive
	MonitorInterval time.Duration
	// OutputDir receives the written pairs under a directory named after the evaluation
	OutputDir string
}

// ExecutionResult is the outcome of a run
type ExecutionResult struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Err       error           `json:"-"`
	Summary   pooling.Summary `json:"summary"`
	Abandoned int             `json:"abandoned_tasks"`
	Outputs   []string        `json:"outputs,omitempty"`
}

// Status is a point-in-time view of a running evaluation
type Status struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	State     State           `json:"state"`
	Pools     int             `json:"pools"`
	Summary   pooling.Summary `json:"summary"`
	Lanes     []lanes.Status  `json:"lanes,omitempty"`
	StartedAt time.Time       `json:"started_at,omitempty"`
}

// Evaluation drives one plan through the lanes: it owns the topology, the
// group tracker and the pool chain, and guarantees cleanup on every exit.
type Evaluation struct {
	id        string
	plan      *Plan
	deps      Dependencies
	opts      Options
	canceller *cancel.Canceller
	logger    *zap.Logger
	metrics   ports.MetricsCollector

	mu        sync.RWMutex
	state     State
	reporter  *pooling.Reporter
	topology  *lanes.Topology
	startedAt time.Time
}

// New creates an evaluation in the created state
func New(plan *Plan, deps Dependencies, opts Options, canceller *cancel.Canceller) (*Evaluation, error) {
	switch {
	case plan == nil:
		return nil, fmt.Errorf("plan is required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("bus is required")
	case deps.Lock == nil:
		return nil, fmt.Errorf("advisory lock is required")
	case deps.Computer == nil:
		return nil, fmt.Errorf("pool computer is required")
	case len(deps.Calculators) == 0:
		return nil, fmt.Errorf("at least one statistics calculator is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case canceller == nil:
		return nil, fmt.Errorf("canceller is required")
	}
	if err := opts.Topology.Validate(); err != nil {
		return nil, domain.NewUserInputError("invalid lane topology", err)
	}
	if plan.SamplingUncertainty != nil && opts.Topology.SamplingUncertaintyThreads == 0 {
		return nil, domain.NewUserInputError("sampling uncertainty is declared but the sampling lane has no threads", nil)
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	return &Evaluation{
		id:        opts.ID,
		plan:      plan,
		deps:      deps,
		opts:      opts,
		canceller: canceller,
		logger:    deps.Logger.With(zap.String("evaluation_id", opts.ID)),
		metrics:   metrics,
		state:     StateCreated,
	}, nil
}

// ID returns the evaluation id
func (e *Evaluation) ID() string {
	return e.id
}

// State returns the current lifecycle state
func (e *Evaluation) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Cancel requests cooperative cancellation. It always returns domain.ErrCancelled.
func (e *Evaluation) Cancel() error {
	return e.canceller.Cancel()
}

// Status returns a snapshot of the evaluation
func (e *Evaluation) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		ID:        e.id,
		Label:     e.plan.Label,
		State:     e.state,
		Pools:     len(e.plan.FeatureGroups) * len(e.plan.TimeWindows),
		StartedAt: e.startedAt,
	}
	if e.reporter != nil {
		status.Summary = e.reporter.Summary()
	}
	if e.topology != nil && e.state == StateRunning {
		status.Lanes = e.topology.Status()
	}
	return status
}

// Run executes the evaluation once and returns its result. Lane shutdown,
// lock release, staging directory removal and bus close run on every path.
func (e *Evaluation) Run(ctx context.Context) (result ExecutionResult) {
	started := time.Now()
	result.ID = e.id

	if err := e.setState(StateRunning); err != nil {
		result.State, result.Err = e.State(), err
		return result
	}
	e.mu.Lock()
	e.startedAt = started
	e.mu.Unlock()

	e.logger.Info("evaluation started",
		zap.String("label", e.plan.Label),
		zap.Int("feature_groups", len(e.plan.FeatureGroups)),
		zap.Int("time_windows", len(e.plan.TimeWindows)))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if e.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, e.opts.Timeout)
		defer cancelTimeout()
	}
	go func() {
		select {
		case <-e.canceller.Done():
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	var (
		topology *lanes.Topology
		monitor  *lanes.Monitor
		consumer *products.Consumer
		locked   bool
		staging  string
		writers  []*pairs.Writer
	)

	defer func() {
		if monitor != nil {
			monitor.Stop()
		}
		if topology != nil {
			result.Abandoned = topology.ShutdownAll(e.opts.ShutdownTimeout).Total()
		}
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				e.logger.Warn("failed to close product consumer", zap.Error(err))
			}
		}
		for _, w := range writers {
			if err := w.Close(); err != nil {
				e.logger.Warn("failed to close pair writer", zap.Error(err))
			}
		}
		if locked {
			unlockCtx, cancelUnlock := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.deps.Lock.UnlockShared(unlockCtx); err != nil {
				e.logger.Warn("failed to release shared lock", zap.Error(err))
			}
			cancelUnlock()
		}
		if staging != "" {
			if err := os.RemoveAll(staging); err != nil {
				e.logger.Warn("failed to remove staging directory", zap.String("path", staging), zap.Error(err))
			}
		}
		if err := e.deps.Bus.Close(); err != nil {
			e.logger.Warn("failed to close bus", zap.Error(err))
		}

		e.metrics.RecordEvaluation(string(result.State), time.Since(started))
		if err := e.setState(StateClosed); err != nil {
			e.logger.Error("evaluation not closed", zap.Error(err))
		}
		e.logger.Info("evaluation closed",
			zap.String("state", string(result.State)),
			zap.Int("abandoned_tasks", result.Abandoned),
			zap.Duration("duration", time.Since(started)))
	}()

	// a cancellation issued before this point stops the bus right here
	e.canceller.SetBusHandle(e.deps.Bus)
	if e.canceller.Cancelled() {
		e.finish(&result, nil)
		return result
	}

	if err := e.deps.Lock.LockShared(runCtx); err != nil {
		e.finish(&result, fmt.Errorf("failed to acquire shared lock: %w", err))
		return result
	}
	locked = true

	var err error
	topology, err = lanes.NewTopology(e.opts.Topology, e.logger, e.metrics)
	if err != nil {
		e.finish(&result, err)
		return result
	}
	e.mu.Lock()
	e.topology = topology
	e.mu.Unlock()

	if e.opts.MonitorInterval > 0 {
		monitor = lanes.NewMonitor(topology, e.opts.MonitorInterval, e.logger, e.metrics)
		monitor.Start()
	}

	if e.deps.Sink != nil {
		productLane, err := topology.Lane(lanes.ProductLane)
		if err != nil {
			e.finish(&result, err)
			return result
		}
		consumer = products.NewConsumer(e.deps.Bus, productLane, e.deps.Sink, e.logger, e.metrics)
		e.canceller.SetInternalConsumer(consumer)
		if err := consumer.Start(runCtx); err != nil {
			e.finish(&result, err)
			return result
		}
	}

	var mainWriter, baselineWriter *pairs.Writer
	if e.plan.WritePairs {
		if staging, err = e.stagingDir(); err != nil {
			e.finish(&result, err)
			return result
		}
		mainWriter = pairs.NewMainWriter(staging, e.logger)
		writers = append(writers, mainWriter)
		if e.plan.Baseline {
			baselineWriter = pairs.NewBaselineWriter(staging, e.logger)
			writers = append(writers, baselineWriter)
		}
	}

	requests := e.plan.PoolRequests()
	tracker, err := groups.NewFeatureGroupTracker(requests, e.deps.Bus.MarkGroupComplete, e.logger, e.metrics)
	if err != nil {
		e.finish(&result, domain.NewInternalError("cannot register message groups", err))
		return result
	}

	units := make([]*pooling.Unit, 0, len(requests))
	for _, request := range requests {
		cfg := pooling.UnitConfig{
			EvaluationID:            e.id,
			Request:                 request,
			GroupID:                 groups.GroupID(request),
			Computer:                e.deps.Computer,
			Calculators:             e.deps.Calculators,
			SeparateBaselineMetrics: e.plan.SeparateBaselineMetrics,
			Sampling:                e.plan.Sampling(),
			Publisher:               e.deps.Bus,
			Tracker:                 tracker,
			Topology:                topology,
			Logger:                  e.logger,
			Metrics:                 e.metrics,
		}
		// a nil *pairs.Writer must not become a non-nil interface
		if mainWriter != nil {
			cfg.PairWriter = mainWriter
		}
		if baselineWriter != nil {
			cfg.BaselinePairWriter = baselineWriter
		}
		unit, err := pooling.NewUnit(cfg)
		if err != nil {
			e.finish(&result, err)
			return result
		}
		units = append(units, unit)
	}

	reporter := pooling.NewReporter(e.id, len(requests), e.logger)
	e.mu.Lock()
	e.reporter = reporter
	e.mu.Unlock()

	poolLane, err := topology.Lane(lanes.PoolLane)
	if err != nil {
		e.finish(&result, err)
		return result
	}

	future := pooling.NewChain(poolLane, units, reporter, e.logger).Start(runCtx)
	<-future.Done()
	_, chainErr := future.Result()
	result.Summary = reporter.Summary()

	if chainErr != nil {
		if !e.canceller.Cancelled() {
			e.stopBus(chainErr)
		}
		e.finish(&result, chainErr)
		return result
	}

	summary, err := reporter.Finalize()
	result.Summary = summary
	if err != nil {
		e.stopBus(err)
		e.finish(&result, domain.NewUserInputError("the evaluation produced no statistics", err))
		return result
	}

	if err := e.deps.Bus.MarkPublicationComplete(runCtx); err != nil {
		e.finish(&result, fmt.Errorf("failed to complete publication: %w", err))
		return result
	}

	if consumer != nil {
		if err := consumer.Await(runCtx); err != nil {
			e.finish(&result, fmt.Errorf("failed to consume statistics: %w", err))
			return result
		}
	}

	if len(writers) > 0 {
		outputs, err := e.promote(writers)
		if err != nil {
			e.finish(&result, err)
			return result
		}
		result.Outputs = outputs
	}

	e.finish(&result, nil)
	return result
}

// finish sets the terminal state. Cancellation wins over any error raised
// while the evaluation was being torn down.
func (e *Evaluation) finish(result *ExecutionResult, err error) {
	next := StateSucceeded
	switch {
	case e.canceller.Cancelled():
		next, err = StateCancelled, domain.ErrCancelled
	case err != nil:
		next = StateFailed
		if !domain.IsUserInput(err) && !domain.IsInternal(err) {
			err = domain.NewInternalError("evaluation failed", err)
		}
	}

	if stateErr := e.setState(next); stateErr != nil {
		err = errors.Join(err, stateErr)
	}
	result.State = next
	result.Err = err

	if err != nil && next == StateFailed {
		e.logger.Error("evaluation failed", zap.Error(err))
	}
}

func (e *Evaluation) stopBus(cause error) {
	if err := e.deps.Bus.Stop(cause); err != nil {
		e.logger.Warn("failed to stop bus", zap.Error(err))
	}
}

func (e *Evaluation) setState(next State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.state.transition(next)
	if err != nil {
		return err
	}
	e.state = state
	return nil
}

// stagingDir creates the temporary directory the writers fill during the run
func (e *Evaluation) stagingDir() (string, error) {
	if err := os.MkdirAll(e.outputDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	dir, err := os.MkdirTemp(e.outputDir(), ".staging-"+e.id+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// promote moves the written files into the evaluation output directory
func (e *Evaluation) promote(writers []*pairs.Writer) ([]string, error) {
	target := filepath.Join(e.outputDir(), e.id)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evaluation output directory: %w", err)
	}

	var outputs []string
	for _, w := range writers {
		if err := w.Close(); err != nil {
			return nil, err
		}
		for _, path := range w.Paths() {
			dest := filepath.Join(target, filepath.Base(path))
			if err := os.Rename(path, dest); err != nil {
				return nil, fmt.Errorf("failed to move %s: %w", path, err)
			}
			outputs = append(outputs, dest)
		}
	}
	return outputs, nil
}

func (e *Evaluation) outputDir() string {
	if e.opts.OutputDir == "" {
		return "."
	}
	return e.opts.OutputDir
}
