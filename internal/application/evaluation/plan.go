package evaluation

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/aescanero/evalpipe/internal/application/pooling"
	"github.com/aescanero/evalpipe/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Plan is the declaration of an evaluation read from YAML
type Plan struct {
	Label                   string                `yaml:"label"`
	Source                  SourceSpec            `yaml:"source"`
	FeatureGroups           []domain.FeatureGroup `yaml:"feature_groups"`
	TimeWindows             []WindowSpec          `yaml:"time_windows"`
	Thresholds              []domain.Threshold    `yaml:"thresholds"`
	Baseline                bool                  `yaml:"baseline"`
	SeparateBaselineMetrics bool                  `yaml:"separate_baseline_metrics"`
	Metrics                 []string              `yaml:"metrics"`
	SamplingUncertainty     *SamplingSpec         `yaml:"sampling_uncertainty"`
	WritePairs              bool                  `yaml:"write_pairs"`
}

// SourceSpec locates the pairs
type SourceSpec struct {
	Path string `yaml:"path"`
}

// WindowSpec is a valid-time window, earliest exclusive and latest inclusive
type WindowSpec struct {
	Earliest time.Time `yaml:"earliest"`
	Latest   time.Time `yaml:"latest"`
}

// SamplingSpec declares sampling-uncertainty estimation
type SamplingSpec struct {
	SampleSize int       `yaml:"sample_size"`
	Quantiles  []float64 `yaml:"quantiles"`
	BlockSize  int       `yaml:"block_size"`
	Seed       uint64    `yaml:"seed"`
}

// LoadPlan reads and validates a plan file. Every failure is a user input error.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewUserInputError(fmt.Sprintf("cannot read plan %s", path), err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a plan. Unknown keys are rejected.
func ParsePlan(data []byte) (*Plan, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var plan Plan
	if err := decoder.Decode(&plan); err != nil {
		return nil, domain.NewUserInputError("cannot parse plan", err)
	}

	if err := NewValidator().Validate(&plan); err != nil {
		return nil, domain.NewUserInputError("invalid plan", err)
	}
	return &plan, nil
}

// PoolRequests returns one request per feature group and time window, in
// declaration order with feature groups outermost
func (p *Plan) PoolRequests() []domain.PoolRequest {
	requests := make([]domain.PoolRequest, 0, len(p.FeatureGroups)*len(p.TimeWindows))
	for _, group := range p.FeatureGroups {
		for _, window := range p.TimeWindows {
			requests = append(requests, domain.PoolRequest{
				Index:        len(requests),
				FeatureGroup: group,
				TimeWindow:   domain.TimeWindow{Earliest: window.Earliest.UTC(), Latest: window.Latest.UTC()},
				Thresholds:   p.Thresholds,
				HasBaseline:  p.Baseline,
			})
		}
	}
	return requests
}

// Sampling returns the sampling configuration, or nil when not declared
func (p *Plan) Sampling() *pooling.SamplingConfig {
	if p.SamplingUncertainty == nil {
		return nil
	}
	return &pooling.SamplingConfig{
		SampleSize: p.SamplingUncertainty.SampleSize,
		Quantiles:  p.SamplingUncertainty.Quantiles,
		BlockSize:  p.SamplingUncertainty.BlockSize,
		Seed:       p.SamplingUncertainty.Seed,
	}
}
