// Package http provides the HTTP status API of a running evaluation.
//
// The HTTP server exposes endpoints for:
//   - Evaluation status and lane activity
//   - Cooperative cancellation
//   - Health checks
//   - Prometheus metrics
package http
