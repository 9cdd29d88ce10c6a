package domain

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// FeatureGroup is a named set of geographic features evaluated together
type FeatureGroup struct {
	Name     string   `json:"name" yaml:"name"`
	Features []string `json:"features,omitempty" yaml:"features"`
}

// Contains reports whether the feature belongs to the group. A group without
// explicit features contains the feature carrying its own name.
func (g FeatureGroup) Contains(feature string) bool {
	if len(g.Features) == 0 {
		return feature == g.Name
	}
	return lo.Contains(g.Features, feature)
}

// TimeWindow is a valid-time window. Earliest is exclusive and Latest inclusive.
type TimeWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Contains reports whether t lies in (Earliest, Latest]
func (w TimeWindow) Contains(t time.Time) bool {
	return t.After(w.Earliest) && !t.After(w.Latest)
}

// String returns a compact representation of the window
func (w TimeWindow) String() string {
	return fmt.Sprintf("(%s, %s]", w.Earliest.UTC().Format(time.RFC3339), w.Latest.UTC().Format(time.RFC3339))
}

// PoolRequest describes one pool: a feature group, a time window and the
// thresholds to slice it by. Requests are immutable once built.
type PoolRequest struct {
	Index        int          `json:"index"`
	FeatureGroup FeatureGroup `json:"feature_group"`
	TimeWindow   TimeWindow   `json:"time_window"`
	Thresholds   []Threshold  `json:"thresholds,omitempty"`
	HasBaseline  bool         `json:"has_baseline"`
}

// EffectiveThresholds returns the request thresholds, or the all-data
// threshold when none are declared
func (r PoolRequest) EffectiveThresholds() []Threshold {
	if len(r.Thresholds) == 0 {
		return []Threshold{AllData()}
	}
	return r.Thresholds
}

// String identifies the request in logs
func (r PoolRequest) String() string {
	return fmt.Sprintf("pool %d (feature group %s, window %s)", r.Index, r.FeatureGroup.Name, r.TimeWindow)
}

// Pair is a single left (observed) and right (predicted) value at a valid time
type Pair struct {
	Feature   string    `json:"feature"`
	ValidTime time.Time `json:"valid_time"`
	Left      float64   `json:"left"`
	Right     float64   `json:"right"`
}

// PoolData holds the pairs of a pool and, optionally, its baseline pairs
type PoolData struct {
	Request  PoolRequest
	Pairs    []Pair
	Baseline []Pair
}

// IsEmpty reports whether the pool has no main pairs and no baseline pairs
func (p PoolData) IsEmpty() bool {
	return len(p.Pairs) == 0 && len(p.Baseline) == 0
}

// HasBaseline reports whether the pool carries baseline pairs
func (p PoolData) HasBaseline() bool {
	return len(p.Baseline) > 0
}

// BaselinePool returns the baseline pairs as a pool of their own
func (p PoolData) BaselinePool() PoolData {
	return PoolData{Request: p.Request, Pairs: p.Baseline}
}

// SliceByThreshold returns the pool restricted to pairs whose left value
// satisfies the threshold. The baseline is sliced by the same rule.
func SliceByThreshold(p PoolData, th Threshold) PoolData {
	keep := func(pair Pair, _ int) bool { return th.Test(pair.Left) }
	return PoolData{
		Request:  p.Request,
		Pairs:    lo.Filter(p.Pairs, keep),
		Baseline: lo.Filter(p.Baseline, keep),
	}
}

// Features returns the distinct feature names present in the pool
func (p PoolData) Features() []string {
	return lo.Uniq(lo.Map(p.Pairs, func(pair Pair, _ int) string { return pair.Feature }))
}
