// Package socket implements the stream Connection Manager.
//
// The manager:
//   - Owns a single WebSocket connection and its lifecycle state machine
//   - Queues outbound messages while disconnected, flushing FIFO on open
//   - Sends periodic keep-alive pings while connected
//   - Reconnects after unexpected closes, bounded by a maximum attempt count
//   - Dispatches inbound envelopes to per-type handlers
//   - Correlates authenticate/subscribe/unsubscribe requests with their
//     result messages through transient one-shot handlers
package socket
