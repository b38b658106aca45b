package websocket

import (
	"errors"
	"sync"

	"run-route/pkg/logger"
)

// Manager tracks live sockets per runner. A runner may hold several at once
// (phone and watch), and every frame sent to the runner reaches all of them.
type Manager struct {
	connections map[string]map[*Connection]struct{}
	mu          sync.RWMutex
	log         logger.Logger
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		connections: make(map[string]map[*Connection]struct{}),
		log:         log,
	}
}

// AddConnection registers conn under runnerID.
func (m *Manager) AddConnection(runnerID string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.connections[runnerID]
	if !ok {
		set = make(map[*Connection]struct{})
		m.connections[runnerID] = set
	}
	set[conn] = struct{}{}
	m.log.WithFields(logger.LogFields{
		"runner_id": runnerID,
		"sockets":   len(set),
	}).Info("websocket_connected", "New connection added")
}

// RemoveConnection closes and forgets conn.
func (m *Manager) RemoveConnection(runnerID string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.connections[runnerID]
	if !ok {
		return
	}
	if _, ok := set[conn]; !ok {
		return
	}
	conn.Close()
	delete(set, conn)
	if len(set) == 0 {
		delete(m.connections, runnerID)
	}
	m.log.WithFields(logger.LogFields{"runner_id": runnerID}).Info("websocket_disconnected", "Connection removed")
}

// SendJSON delivers message to every socket of runnerID. A runner with no
// open socket is not an error.
func (m *Manager) SendJSON(runnerID string, message interface{}) error {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections[runnerID]))
	for c := range m.connections[runnerID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		m.log.WithFields(logger.LogFields{"runner_id": runnerID}).Debug("websocket_runner_not_connected", "Runner not connected")
		return nil
	}

	var firstErr error
	for _, c := range conns {
		if err := c.WriteJSON(message); err != nil {
			m.log.WithFields(logger.LogFields{"runner_id": runnerID}).Error("websocket_send_failed", err)
			if errors.Is(err, ErrConnectionClosed) {
				m.RemoveConnection(runnerID, c)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// IsConnected reports whether runnerID has at least one socket.
func (m *Manager) IsConnected(runnerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections[runnerID]) > 0
}

// Count returns the number of open sockets.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.connections {
		n += len(set)
	}
	return n
}
