package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	exitSuccess   = 0
	exitInternal  = 1
	exitUserInput = 2
	exitCancelled = 130
)

func main() {
	err := newRootCmd().Execute()
	if err != nil && !errors.Is(err, domain.ErrCancelled) {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "evalpipe",
		Short: "Concurrent evaluation pipeline for paired observations and predictions",
		Long: `evalpipe pools paired data by feature group and time window, computes
statistics for every pool on dedicated lanes and publishes them as they are ready.

Configuration is read from EVALPIPE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "evalpipe %s (built %s)\n", Version, BuildTime)
		},
	}
}

// exitCode maps the outcome of a command to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, domain.ErrCancelled):
		return exitCancelled
	case domain.IsUserInput(err):
		return exitUserInput
	default:
		return exitInternal
	}
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
