// Package archive persists every inbound stream message to Postgres.
//
// Messages flow from the socket manager's message observer into a
// growable in-memory buffer, and a batch writer drains the buffer into
// the messages table:
//
//	CREATE TABLE messages (
//	    msg_id      text PRIMARY KEY,
//	    msg_type    text NOT NULL,
//	    received_at bigint NOT NULL, -- microseconds
//	    payload     bytea
//	);
package archive
