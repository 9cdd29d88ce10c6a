package domain

// PoolOutcome is the terminal result of one pool unit
type PoolOutcome int

const (
	// OutcomeNotAvailable means the pool produced no statistics
	OutcomeNotAvailable PoolOutcome = iota
	// OutcomeAvailableNotPublished means statistics existed but the bus refused them
	OutcomeAvailableNotPublished
	// OutcomePublished means every statistics message of the pool was sent
	OutcomePublished
)

// String returns the outcome label used in logs and metrics
func (o PoolOutcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeAvailableNotPublished:
		return "available_not_published"
	case OutcomeNotAvailable:
		return "not_available"
	}
	return "unknown"
}

// MarshalText encodes the outcome as its label
func (o PoolOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
