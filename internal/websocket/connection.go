package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps a live client connection. All outbound frames pass through
// a buffered channel consumed by a single writer goroutine, so concurrent
// broadcasters never interleave writes on the underlying socket. The enqueue
// order of one producer is its delivery order.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	username     string
	identified   bool
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex
}

// NewConnection wraps an upgraded websocket connection and starts its writer
// goroutine. bufferSize bounds the outbound queue; writeTimeout bounds each
// socket write.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying socket. It exits when the
// connection context is cancelled or a write fails; either way the connection
// is unusable and enqueues start failing.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and enqueues it, waiting up to the write timeout for
// buffer space. Used on paths that may not drop frames, such as history
// replay.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Send enqueues a pre-serialized frame without blocking. A full buffer or a
// closed connection is reported to the caller; the registry treats either as
// a failed peer.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close ends the connection lifecycle. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection lifecycle has ended.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ID returns the opaque per-process connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// SetUsername records the identified username. Set once, after the user
// directory resolves the connection's identity.
func (c *Connection) SetUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.identified = true
}

// Username returns the identified username, empty until identification.
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// IsIdentified reports whether the connection has completed identification.
func (c *Connection) IsIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identified
}
