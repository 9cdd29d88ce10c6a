// Package events provides the message bus implementations of an evaluation.
//
// Implementations:
//   - redis: Redis Streams, one stream per evaluation, read through consumer groups
//   - memory: in-process delivery to subscribers
//
// Both keep their publication bookkeeping in a Ledger.
package events
