package websocket

import (
	"sync"
)

// Registry tracks dashboard connections by the session they watch
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and event delivery
type Registry struct {
	mu       sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy broadcast lookups
	sessions map[string]map[string]*Connection // sessionID -> connectionID -> Connection
	total    int
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds conn under its session. Several dashboards may
// watch the same session.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.SessionID() == "" {
		return ErrConnectionNotBound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.sessions[conn.SessionID()]
	if !exists {
		conns = make(map[string]*Connection)
		r.sessions[conn.SessionID()] = conns
	}
	if _, dup := conns[conn.ID()]; dup {
		return ErrDuplicateConnection
	}
	conns[conn.ID()] = conn
	r.total++
	return nil
}

// UnregisterConnection removes conn. Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.sessions[conn.SessionID()]
	if !exists {
		return
	}
	if _, ok := conns[conn.ID()]; !ok {
		return
	}
	delete(conns, conn.ID())
	r.total--
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if len(conns) == 0 {
		delete(r.sessions, conn.SessionID())
	}
}

// GetSessionConnections returns the connections watching sessionID
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	connections := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		connections = append(connections, conn)
	}
	return connections
}

// SessionConnectionCount returns how many dashboards watch sessionID
func (r *Registry) SessionConnectionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// CloseAll closes every registered connection, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Connection
	for _, conns := range r.sessions {
		for _, conn := range conns {
			all = append(all, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range all {
		_ = conn.Close()
	}
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": r.total,
		"watched_sessions":  len(r.sessions),
	}
}
