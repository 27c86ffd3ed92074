package websocket

import (
	"sync"

	"carpool/pkg/logger"
)

// Manager tracks live connections per user. A user may have several open
// sessions (one per tab or device).
type Manager struct {
	connections map[string]map[string]*Connection // user_id -> connection_id -> connection
	mu          sync.RWMutex
	log         logger.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		connections: make(map[string]map[string]*Connection),
		log:         log,
	}
}

// AddConnection registers a new connection
func (m *Manager) AddConnection(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[conn.UserID] == nil {
		m.connections[conn.UserID] = make(map[string]*Connection)
	}
	m.connections[conn.UserID][conn.ID] = conn
	m.log.WithFields(logger.LogFields{
		"user_id":  conn.UserID,
		"sessions": len(m.connections[conn.UserID]),
	}).Info("websocket_connected", "New connection added")
}

// RemoveConnection closes and forgets one connection
func (m *Manager) RemoveConnection(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.connections[conn.UserID]
	if !ok {
		return
	}
	if _, ok := sessions[conn.ID]; !ok {
		return
	}
	conn.Close()
	delete(sessions, conn.ID)
	if len(sessions) == 0 {
		delete(m.connections, conn.UserID)
	}
	m.log.WithFields(logger.LogFields{
		"user_id": conn.UserID,
	}).Debug("websocket_disconnected", "Connection removed")
}

// SendToUser writes message to every session of userID and reports how many
// accepted it. Dead sessions are removed.
func (m *Manager) SendToUser(userID string, message interface{}) int {
	m.mu.RLock()
	sessions := make([]*Connection, 0, len(m.connections[userID]))
	for _, conn := range m.connections[userID] {
		sessions = append(sessions, conn)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, conn := range sessions {
		if err := conn.WriteJSON(message); err != nil {
			if err == ErrConnectionClosed {
				m.RemoveConnection(conn)
			}
			continue
		}
		delivered++
	}
	return delivered
}

// GetConnectionCount returns the number of open sessions
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.connections {
		n += len(sessions)
	}
	return n
}

// IsUserConnected checks if a user has at least one session
func (m *Manager) IsUserConnected(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections[userID]) > 0
}
