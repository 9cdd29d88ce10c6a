// Package lock provides the advisory lock held in shared mode for the
// lifetime of an evaluation.
//
// Implementations:
//   - redis: expiring per-holder keys, refused while an exclusive key exists
//   - memory: single-process holder count
package lock
