// Package pairs writes the pairs of each pool to a shared CSV file.
package pairs

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/pkg/domain"
	"go.uber.org/zap"
)

const (
	// MainFileName holds the pairs of the main pools
	MainFileName = "pairs.csv"

	// BaselineFileName holds the pairs of the baseline pools
	BaselineFileName = "baseline_pairs.csv"
)

var (
	// ErrPoolWritten is returned when the pairs of a pool are written twice
	ErrPoolWritten = errors.New("pairs already written for pool")

	// ErrWriterClosed is returned when writing after Close
	ErrWriterClosed = errors.New("pair writer is closed")
)

var header = []string{
	"pool", "feature_group", "feature",
	"window_earliest", "window_latest", "valid_time",
	"left", "right",
}

// Writer implements ports.PairWriter. Every pool is appended to one file; the
// file is created on the first non-empty write.
type Writer struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	file    *os.File
	csv     *csv.Writer
	written map[int]bool
	closed  bool
}

// NewWriter creates a writer for the file at path
func NewWriter(path string, logger *zap.Logger) *Writer {
	return &Writer{
		path:    path,
		logger:  logger,
		written: make(map[int]bool),
	}
}

// NewMainWriter creates the writer of the main pairs in dir
func NewMainWriter(dir string, logger *zap.Logger) *Writer {
	return NewWriter(filepath.Join(dir, MainFileName), logger)
}

// NewBaselineWriter creates the writer of the baseline pairs in dir
func NewBaselineWriter(dir string, logger *zap.Logger) *Writer {
	return NewWriter(filepath.Join(dir, BaselineFileName), logger)
}

// WritePairs appends the pairs of one pool
func (w *Writer) WritePairs(ctx context.Context, request domain.PoolRequest, pairs []domain.Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if w.written[request.Index] {
		return fmt.Errorf("%w %d", ErrPoolWritten, request.Index)
	}
	w.written[request.Index] = true

	if len(pairs) == 0 {
		return nil
	}
	if err := w.open(); err != nil {
		return err
	}

	pool := strconv.Itoa(request.Index)
	earliest := formatTime(request.TimeWindow.Earliest)
	latest := formatTime(request.TimeWindow.Latest)
	for _, pair := range pairs {
		record := []string{
			pool, request.FeatureGroup.Name, pair.Feature,
			earliest, latest, formatTime(pair.ValidTime),
			formatValue(pair.Left), formatValue(pair.Right),
		}
		if err := w.csv.Write(record); err != nil {
			return fmt.Errorf("failed to write pairs to %s: %w", w.path, err)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush pairs to %s: %w", w.path, err)
	}

	w.logger.Debug("pairs written",
		zap.Int("pool_index", request.Index),
		zap.String("feature_group", request.FeatureGroup.Name),
		zap.Int("pairs", len(pairs)),
		zap.String("path", w.path))

	return nil
}

// Paths returns the files written so far
func (w *Writer) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return []string{w.path}
}

// Close flushes and closes the file. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush pairs to %s: %w", w.path, err)
	}
	return w.file.Close()
}

func (w *Writer) open() error {
	if w.file != nil {
		return nil
	}

	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create pairs file: %w", err)
	}
	w.file = file
	w.csv = csv.NewWriter(file)

	if err := w.csv.Write(header); err != nil {
		return fmt.Errorf("failed to write pairs header: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
