// Package wire defines the message envelope exchanged over the stream.
//
// Every structured message is an Envelope: a type tag for dispatch, an
// optional correlation id, a millisecond timestamp, and an opaque JSON
// payload. Messages that fail to decode are passed through raw by the
// socket manager rather than rejected.
package wire
