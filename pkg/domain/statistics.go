package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Orientation distinguishes statistics of the main pairs from those of the baseline
type Orientation string

const (
	OrientationMain     Orientation = "main"
	OrientationBaseline Orientation = "baseline"
)

// Statistic is one named score
type Statistic struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type statisticJSON struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

// MarshalJSON writes non-finite values as null
func (s Statistic) MarshalJSON() ([]byte, error) {
	out := statisticJSON{Name: s.Name}
	if !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0) {
		out.Value = &s.Value
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null value as NaN
func (s *Statistic) UnmarshalJSON(data []byte) error {
	var in statisticJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Name = in.Name
	s.Value = math.NaN()
	if in.Value != nil {
		s.Value = *in.Value
	}
	return nil
}

// StatisticsBatch is the output of one calculator applied to one pool slice
type StatisticsBatch []Statistic

// Statistics is the message published on the bus for one pool, threshold and
// orientation. Quantile is set for sampling-uncertainty estimates only.
type Statistics struct {
	ID           string      `json:"id"`
	EvaluationID string      `json:"evaluation_id"`
	PoolIndex    int         `json:"pool_index"`
	FeatureGroup string      `json:"feature_group"`
	TimeWindow   TimeWindow  `json:"time_window"`
	Threshold    Threshold   `json:"threshold"`
	Orientation  Orientation `json:"orientation"`
	Quantile     *float64    `json:"quantile,omitempty"`
	SampleSize   int         `json:"sample_size"`
	Values       []Statistic `json:"values"`
	CreatedAt    time.Time   `json:"created_at"`
}

// IsNominal reports whether the message carries nominal values rather than a quantile
func (s Statistics) IsNominal() bool {
	return s.Quantile == nil
}
