// Package lanes implements the executor topology of an evaluation.
//
// A topology holds one lane per activity:
//   - pool: one task per pool unit
//   - threshold: slicing a pool by threshold
//   - metric: statistics calculators
//   - sampling-uncertainty: bootstrap resampling (optional)
//   - product: pair writers and statistics consumers
//
// Each lane is an ants goroutine pool. Work is submitted with Go, which returns
// a Future. Shutdown drains each lane within a grace period and then abandons
// what is left, resolving the abandoned futures with ErrLaneShutdown.
//
// The monitor periodically logs queue depth and records lane metrics.
package lanes
