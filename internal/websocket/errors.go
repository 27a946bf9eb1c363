package websocket

import "errors"

var (
	// ErrConnectionClosed is returned when writing to a connection whose
	// lifecycle has ended.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrSendBufferFull is returned when a peer's outbound buffer is full.
	// The registry treats it as a dead peer.
	ErrSendBufferFull = errors.New("connection send buffer is full")

	// ErrWriteTimeout is returned when an enqueue does not complete within
	// the write timeout.
	ErrWriteTimeout = errors.New("connection write timed out")
)
