package pooling

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Summary describes the pools of a finished evaluation
type Summary struct {
	Total         int           `json:"total"`
	Completed     int           `json:"completed"`
	Published     int           `json:"published"`
	NotPublished  int           `json:"not_published"`
	NotAvailable  int           `json:"not_available"`
	FeatureGroups []string      `json:"feature_groups"`
	TimeWindows   []string      `json:"time_windows"`
	Elapsed       time.Duration `json:"elapsed"`
}

// String returns a one-line summary
func (s Summary) String() string {
	return fmt.Sprintf("%d/%d pools published statistics (%d not published, %d without statistics) across %d feature groups and %d time windows in %s",
		s.Published, s.Total, s.NotPublished, s.NotAvailable, len(s.FeatureGroups), len(s.TimeWindows), s.Elapsed.Round(time.Millisecond))
}

// Reporter accumulates pool outcomes as units finish
type Reporter struct {
	evaluation string
	total      int
	logger     *zap.Logger

	mu            sync.Mutex
	completed     int
	outcomes      map[domain.PoolOutcome]int
	featureGroups map[string]struct{}
	timeWindows   map[string]struct{}
	first, last   time.Time
}

// NewReporter creates a reporter expecting total pools
func NewReporter(evaluation string, total int, logger *zap.Logger) *Reporter {
	return &Reporter{
		evaluation:    evaluation,
		total:         total,
		logger:        logger,
		outcomes:      make(map[domain.PoolOutcome]int),
		featureGroups: make(map[string]struct{}),
		timeWindows:   make(map[string]struct{}),
	}
}

// Record records the outcome of one pool. It is safe for concurrent use.
func (r *Reporter) Record(request domain.PoolRequest, outcome domain.PoolOutcome) {
	now := time.Now()

	r.mu.Lock()
	r.completed++
	n := r.completed
	r.outcomes[outcome]++
	if outcome == domain.OutcomePublished {
		r.featureGroups[request.FeatureGroup.Name] = struct{}{}
		r.timeWindows[request.TimeWindow.String()] = struct{}{}
	}
	if r.first.IsZero() {
		r.first = now
	}
	r.last = now
	r.mu.Unlock()

	progress := fmt.Sprintf("[%d/%d]", n, r.total)
	switch outcome {
	case domain.OutcomePublished:
		r.logger.Info(progress+" completed statistics for a pool",
			zap.String("feature_group", request.FeatureGroup.Name),
			zap.Stringer("time_window", request.TimeWindow))
	case domain.OutcomeAvailableNotPublished:
		r.logger.Info(progress+" completed a pool whose statistics were not published because the evaluation stopped",
			zap.String("feature_group", request.FeatureGroup.Name),
			zap.Stringer("time_window", request.TimeWindow))
	default:
		r.logger.Warn(progress+" completed a pool but no statistics were produced",
			zap.String("feature_group", request.FeatureGroup.Name),
			zap.Stringer("time_window", request.TimeWindow))
	}
}

// Summary returns the outcomes recorded so far
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	featureGroups := lo.Keys(r.featureGroups)
	sort.Strings(featureGroups)
	timeWindows := lo.Keys(r.timeWindows)
	sort.Strings(timeWindows)

	return Summary{
		Total:         r.total,
		Completed:     r.completed,
		Published:     r.outcomes[domain.OutcomePublished],
		NotPublished:  r.outcomes[domain.OutcomeAvailableNotPublished],
		NotAvailable:  r.outcomes[domain.OutcomeNotAvailable],
		FeatureGroups: featureGroups,
		TimeWindows:   timeWindows,
		Elapsed:       r.last.Sub(r.first),
	}
}

// Finalize logs the summary. It fails with domain.ErrNoStatistics when no
// pool published statistics.
func (r *Reporter) Finalize() (Summary, error) {
	summary := r.Summary()

	if summary.Published == 0 {
		return summary, fmt.Errorf("%w: %d pools in evaluation %s completed without publishing",
			domain.ErrNoStatistics, summary.Completed, r.evaluation)
	}

	r.logger.Info("statistics created",
		zap.String("evaluation_id", r.evaluation),
		zap.Int("pools", summary.Total),
		zap.Int("published", summary.Published),
		zap.Int("not_published", summary.NotPublished),
		zap.Int("not_available", summary.NotAvailable),
		zap.Int("feature_groups", len(summary.FeatureGroups)),
		zap.Int("time_windows", len(summary.TimeWindows)),
		zap.Duration("elapsed", summary.Elapsed))

	if missing := summary.Total - summary.Published; missing > 0 {
		r.logger.Warn(fmt.Sprintf("%d out of %d pools did not publish statistics", missing, summary.Total))
	}

	return summary, nil
}
