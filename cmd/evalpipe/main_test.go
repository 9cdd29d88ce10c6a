package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/evalpipe/internal/application/evaluation"
	"github.com/aescanero/evalpipe/internal/config"
	"github.com/aescanero/evalpipe/pkg/adapters/storage/sqlite"
	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/maxatome/go-testdeep/td"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const testPairs = `feature,valid_time,left,right
f1,2024-01-01T06:00:00Z,1,2
f1,2024-01-01T12:00:00Z,2,3
f1,2024-01-02T06:00:00Z,3,5
f2,2024-01-02T12:00:00Z,4,6
`

const testPlan = `
label: cli
source:
  path: pairs.csv
feature_groups:
  - name: all
    features: [f1, f2]
time_windows:
  - earliest: 2024-01-01T00:00:00Z
    latest: 2024-01-02T00:00:00Z
  - earliest: 2024-01-02T00:00:00Z
    latest: 2024-01-03T00:00:00Z
metrics: [sample_size, mean_error]
write_pairs: true
`

func writePlan(t *testing.T, plan string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	td.Require(t).CmpNoError(os.WriteFile(filepath.Join(dir, "pairs.csv"), []byte(testPairs), 0o600))
	path := filepath.Join(dir, "plan.yaml")
	td.Require(t).CmpNoError(os.WriteFile(path, []byte(plan), 0o600))
	return dir, path
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		LogLevel: "info",
		Lanes: config.LaneConfig{
			PoolThreads:      2,
			ThresholdThreads: 2,
			MetricThreads:    2,
			ProductThreads:   1,
		},
		Bus:      config.BusMemory,
		Lock:     config.LockMemory,
		Sink:     config.SinkSQLite,
		Timeouts: config.TimeoutConfig{Shutdown: time.Second},
		Output: config.OutputConfig{
			Dir:          filepath.Join(dir, "out"),
			StatisticsDB: filepath.Join(dir, "statistics.db"),
		},
	}
}

func TestRunEvaluation(t *testing.T) {
	// Arrange
	dir, planPath := writePlan(t, testPlan)
	cfg := testConfig(dir)

	// Act
	result, err := runEvaluation(context.Background(), cfg, planPath, "cli-1", prometheus.NewRegistry(), zap.NewNop())

	// Assert
	td.Require(t).CmpNoError(err)
	td.Require(t).CmpNoError(result.Err)
	td.Cmp(t, result.State, evaluation.StateSucceeded)
	td.Cmp(t, result.Summary.Published, 2)
	td.Cmp(t, result.Outputs, []string{filepath.Join(dir, "out", "cli-1", "pairs.csv")})
	td.Cmp(t, exitCode(result.Err), 0)

	store, err := sqlite.NewStore(context.Background(), cfg.Output.StatisticsDB, zap.NewNop())
	td.Require(t).CmpNoError(err)
	defer store.Close()
	count, err := store.Count(context.Background(), "cli-1")
	td.Require(t).CmpNoError(err)
	// two pools, one message each, two statistics per message
	td.Cmp(t, count, 4)
}

func TestRunEvaluationUserInput(t *testing.T) {
	t.Run("missing plan", func(t *testing.T) {
		dir := t.TempDir()

		_, err := runEvaluation(context.Background(), testConfig(dir), filepath.Join(dir, "missing.yaml"), "", prometheus.NewRegistry(), zap.NewNop())

		td.CmpTrue(t, domain.IsUserInput(err))
		td.Cmp(t, exitCode(err), 2)
	})

	t.Run("baseline without baseline column", func(t *testing.T) {
		dir, planPath := writePlan(t, testPlan+"baseline: true\n")

		_, err := runEvaluation(context.Background(), testConfig(dir), planPath, "", prometheus.NewRegistry(), zap.NewNop())

		td.CmpTrue(t, domain.IsUserInput(err))
		td.CmpContains(t, err, "has no baseline column")
	})
}

func TestRunEvaluationWithGRPC(t *testing.T) {
	t.Run("serves during the run", func(t *testing.T) {
		dir, planPath := writePlan(t, testPlan)
		cfg := testConfig(dir)
		cfg.GRPCPort = freePort(t)

		result, err := runEvaluation(context.Background(), cfg, planPath, "cli-grpc", prometheus.NewRegistry(), zap.NewNop())

		td.Require(t).CmpNoError(err)
		td.CmpNoError(t, result.Err)
		td.Cmp(t, result.State, evaluation.StateSucceeded)
	})

	t.Run("port in use", func(t *testing.T) {
		busy, err := net.Listen("tcp", ":0")
		td.Require(t).CmpNoError(err)
		defer busy.Close()
		dir, planPath := writePlan(t, testPlan)
		cfg := testConfig(dir)
		cfg.GRPCPort = busy.Addr().(*net.TCPAddr).Port

		_, err = runEvaluation(context.Background(), cfg, planPath, "", prometheus.NewRegistry(), zap.NewNop())

		td.CmpTrue(t, domain.IsInternal(err))
		td.CmpContains(t, err, "failed to create gRPC server")
		td.Cmp(t, exitCode(err), 1)
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	td.Require(t).CmpNoError(err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "internal", err: domain.NewInternalError("boom", nil), want: 1},
		{name: "unclassified", err: errors.New("boom"), want: 1},
		{name: "user input", err: domain.NewUserInputError("bad plan", nil), want: 2},
		{name: "cancelled", err: domain.ErrCancelled, want: 130},
		{name: "wrapped cancelled", err: errors.Join(domain.ErrCancelled, errors.New("late")), want: 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td.Cmp(t, exitCode(tt.err), tt.want)
		})
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer

	printSummary(&buf, evaluation.ExecutionResult{
		ID:        "evaluation-1",
		State:     evaluation.StateSucceeded,
		Abandoned: 2,
		Outputs:   []string{"out/evaluation-1/pairs.csv"},
	}, true)

	out := buf.String()
	td.CmpContains(t, out, "EVALUATION")
	td.CmpContains(t, out, "evaluation-1")
	td.CmpContains(t, out, "succeeded")
	td.CmpContains(t, out, "2 tasks were abandoned at shutdown")
	td.CmpContains(t, out, "wrote out/evaluation-1/pairs.csv")
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	td.Require(t).CmpNoError(root.Execute())

	td.Cmp(t, buf.String(), "evalpipe dev (built unknown)\n")
}
