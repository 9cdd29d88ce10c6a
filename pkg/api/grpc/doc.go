// Package grpc serves the standard gRPC health service for a running
// evaluation. The evaluation service is SERVING while the evaluation runs and
// NOT_SERVING before it starts and once it ends.
package grpc
