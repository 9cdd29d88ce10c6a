// Package cancel provides the cooperative cancellation gate of an evaluation.
package cancel
