// Package evaluation drives a declared evaluation from plan to published
// statistics.
//
// An evaluation:
//   - Loads and validates a YAML plan
//   - Builds one pool request per feature group and time window
//   - Runs the pools on the lane topology and publishes their statistics
//   - Moves through created, running, a terminal state and closed
//
// Every run releases its lanes, its shared lock and its bus on exit, whether
// it succeeded, failed or was cancelled.
package evaluation
