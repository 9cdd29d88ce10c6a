// Package storage provides statistics sink implementations fed by the
// product consumer.
//
// Implementations:
//   - sqlite: one row per statistic value, WAL journal
//   - redis: JSON lists per message group with a TTL
//   - memory: In-memory for testing
package storage
