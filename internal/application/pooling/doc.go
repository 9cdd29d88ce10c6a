// Package pooling runs the pools of an evaluation.
//
// A Unit computes one pool and, using the lanes of the topology:
//   - slices it by threshold and runs the statistics calculators
//   - optionally estimates sampling uncertainty by stationary block bootstrap
//   - optionally writes its pairs
//   - publishes its statistics and reports to the group tracker
//
// A Chain runs every unit on the pool lane; the first failing unit fails the
// chain. The Reporter accumulates outcomes and fails an evaluation in which no
// pool published anything.
package pooling
