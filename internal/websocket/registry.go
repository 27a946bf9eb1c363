package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"chatrelay/pkg/types"
)

// Registry is the shared set of live connections used for fan-out. All three
// operations are internally synchronized: a broadcast iterates a consistent
// snapshot of membership, and concurrent register/unregister calls never
// corrupt the set.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // connection ID -> Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register adds a connection. Registering an already-present connection is a
// no-op.
func (r *Registry) Register(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return
	}
	r.connections[conn.ID()] = conn
	log.Printf("Connection registered: id=%s username=%s total=%d",
		conn.ID(), conn.Username(), len(r.connections))
}

// Unregister removes a connection. Removing an absent connection, or the same
// connection twice, is a no-op.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; !exists {
		return
	}
	delete(r.connections, conn.ID())
	log.Printf("Connection unregistered: id=%s username=%s total=%d",
		conn.ID(), conn.Username(), len(r.connections))
}

// Broadcast delivers the envelope to every currently registered connection,
// the sender included. The envelope is serialized once; delivery to each peer
// is a non-blocking enqueue, so a dead or slow peer never stalls the others.
// Peers that fail to accept the frame are unregistered and closed.
func (r *Registry) Broadcast(envelope types.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Failed to serialize broadcast envelope: %v", err)
		return
	}

	var failed []*Connection
	for _, conn := range r.snapshot() {
		if err := conn.Send(data); err != nil {
			log.Printf("Broadcast delivery failed: id=%s username=%s: %v",
				conn.ID(), conn.Username(), err)
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		r.Unregister(conn)
		_ = conn.Close()
	}
}

// snapshot returns the current membership under the read lock.
func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Stats returns registry statistics for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{"live_connections": len(r.connections)}
}
