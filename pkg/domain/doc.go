// Package domain defines the core types of an evaluation.
//
// It holds:
//   - Pool requests, the feature groups, time windows and thresholds that describe them
//   - Pool data (paired left/right values, optionally with a baseline)
//   - Statistics messages published on the bus
//   - Pool outcomes and the error taxonomy shared across packages
package domain
