package evaluation

import (
	"fmt"

	"github.com/aescanero/evalpipe/pkg/domain"
	"github.com/aescanero/evalpipe/pkg/statistics"
)

// Validator validates evaluation plans
type Validator struct{}

// NewValidator creates a new plan validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a plan
func (v *Validator) Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}

	if p.Source.Path == "" {
		return fmt.Errorf("source path is required")
	}

	if len(p.FeatureGroups) == 0 {
		return fmt.Errorf("plan must have at least one feature group")
	}

	groupNames := make(map[string]bool)
	for i, group := range p.FeatureGroups {
		if group.Name == "" {
			return fmt.Errorf("feature group %d has no name", i)
		}
		if groupNames[group.Name] {
			return fmt.Errorf("duplicate feature group: %s", group.Name)
		}
		groupNames[group.Name] = true
	}

	if len(p.TimeWindows) == 0 {
		return fmt.Errorf("plan must have at least one time window")
	}
	for i, window := range p.TimeWindows {
		if !window.Latest.After(window.Earliest) {
			return fmt.Errorf("time window %d must end after it starts", i)
		}
	}

	for i, th := range p.Thresholds {
		if err := v.validateThreshold(th); err != nil {
			return fmt.Errorf("invalid threshold %d: %w", i, err)
		}
	}

	if len(p.Metrics) == 0 {
		return fmt.Errorf("plan must declare at least one metric")
	}
	if _, err := statistics.ByName(p.Metrics); err != nil {
		return err
	}

	if p.SeparateBaselineMetrics && !p.Baseline {
		return fmt.Errorf("separate baseline metrics require a baseline")
	}

	if sampling := p.Sampling(); sampling != nil {
		if err := sampling.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// validateThreshold validates a single threshold
func (v *Validator) validateThreshold(th domain.Threshold) error {
	if !th.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", th.Operator)
	}
	return nil
}
