package domain

import (
	"fmt"
	"math"
)

// ThresholdOperator is the comparison applied by a threshold
type ThresholdOperator string

const (
	OperatorAll          ThresholdOperator = "all"
	OperatorGreater      ThresholdOperator = ">"
	OperatorGreaterEqual ThresholdOperator = ">="
	OperatorLess         ThresholdOperator = "<"
	OperatorLessEqual    ThresholdOperator = "<="
)

// Valid reports whether the operator is known
func (o ThresholdOperator) Valid() bool {
	switch o {
	case OperatorAll, OperatorGreater, OperatorGreaterEqual, OperatorLess, OperatorLessEqual:
		return true
	}
	return false
}

// Threshold selects the pairs of a pool by their left value
type Threshold struct {
	Name     string            `json:"name,omitempty" yaml:"name"`
	Operator ThresholdOperator `json:"operator" yaml:"operator"`
	Value    float64           `json:"value" yaml:"value"`
}

// AllData returns the threshold that keeps every finite pair
func AllData() Threshold {
	return Threshold{Name: "all data", Operator: OperatorAll}
}

// Test reports whether v passes the threshold. NaN never passes.
func (t Threshold) Test(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch t.Operator {
	case OperatorAll:
		return true
	case OperatorGreater:
		return v > t.Value
	case OperatorGreaterEqual:
		return v >= t.Value
	case OperatorLess:
		return v < t.Value
	case OperatorLessEqual:
		return v <= t.Value
	}
	return false
}

// String returns a compact representation of the threshold
func (t Threshold) String() string {
	if t.Operator == OperatorAll {
		return string(OperatorAll)
	}
	if t.Name != "" {
		return fmt.Sprintf("%s %s %g", t.Name, t.Operator, t.Value)
	}
	return fmt.Sprintf("%s %g", t.Operator, t.Value)
}
