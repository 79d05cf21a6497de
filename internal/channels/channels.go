// Package channels implements room-style membership bookkeeping for the
// "room.join"/"room.leave" convenience that sits alongside Router
// subscriptions: a Manager tracks which clients belong to which named
// channel within a session, independent of the method-level EVENT
// subscriptions the Router manages.
package channels

import "sync"

// Manager tracks channel membership, reverse-indexed for O(1) cleanup on
// disconnect, the same shape as the router's dual subscription index.
type Manager struct {
	mu sync.RWMutex

	// byChannel[sessionId][channel] -> set[clientId]
	byChannel map[string]map[string]map[string]struct{}
	// byClient[clientId][sessionId] -> set[channel]
	byClient map[string]map[string]map[string]struct{}
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		byChannel: make(map[string]map[string]map[string]struct{}),
		byClient:  make(map[string]map[string]map[string]struct{}),
	}
}

// Join adds clientID to channel within sessionID. Idempotent.
func (m *Manager) Join(sessionID, channel, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byChannel[sessionID] == nil {
		m.byChannel[sessionID] = make(map[string]map[string]struct{})
	}
	if m.byChannel[sessionID][channel] == nil {
		m.byChannel[sessionID][channel] = make(map[string]struct{})
	}
	m.byChannel[sessionID][channel][clientID] = struct{}{}

	if m.byClient[clientID] == nil {
		m.byClient[clientID] = make(map[string]map[string]struct{})
	}
	if m.byClient[clientID][sessionID] == nil {
		m.byClient[clientID][sessionID] = make(map[string]struct{})
	}
	m.byClient[clientID][sessionID][channel] = struct{}{}
}

// Leave removes clientID from channel within sessionID, reaping any
// container left empty.
func (m *Manager) Leave(sessionID, channel, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(sessionID, channel, clientID)
}

func (m *Manager) leaveLocked(sessionID, channel, clientID string) {
	if members, ok := m.byChannel[sessionID][channel]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(m.byChannel[sessionID], channel)
		}
	}
	if len(m.byChannel[sessionID]) == 0 {
		delete(m.byChannel, sessionID)
	}

	if chans, ok := m.byClient[clientID][sessionID]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(m.byClient[clientID], sessionID)
		}
	}
	if len(m.byClient[clientID]) == 0 {
		delete(m.byClient, clientID)
	}
}

// RemoveClient leaves clientID from every channel it belongs to, across all
// sessions. Call this on disconnect.
func (m *Manager) RemoveClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sessionID, chans := range m.byClient[clientID] {
		for channel := range chans {
			m.leaveLocked(sessionID, channel, clientID)
		}
	}
	delete(m.byClient, clientID)
}

// Members returns the client ids currently in (sessionID, channel).
func (m *Manager) Members(sessionID, channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byChannel[sessionID][channel]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ClientChannels returns every channel clientID belongs to within sessionID.
func (m *Manager) ClientChannels(sessionID, clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byClient[clientID][sessionID]
	out := make([]string, 0, len(set))
	for channel := range set {
		out = append(out, channel)
	}
	return out
}

// IsMember reports whether clientID belongs to (sessionID, channel).
func (m *Manager) IsMember(sessionID, channel, clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byChannel[sessionID][channel][clientID]
	return ok
}
