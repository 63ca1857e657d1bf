// Package audit implements async event dispatching for security-relevant
// account operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, Kafka,
//     fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full
//     semantics.
//   - [Event]: structured audit record with id, timestamp, type, account,
//     actor, session, origin and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide
// which events to emit; the Engine does. The durable access log in the
// record store is written by the engine independently of this package.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root package or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
