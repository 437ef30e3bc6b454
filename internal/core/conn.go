// Package core holds the connection registry and the room directory: the
// shared in-memory state behind every socket, independent of live sessions.
package core

import "errors"

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn is an opaque handle to one bidirectional message channel. TrySend
// must never block: a full outbound buffer is a send failure, so one slow
// client cannot stall a fan-out. Close must be idempotent.
type Conn interface {
	TrySend(data []byte) error
	Close()
}
