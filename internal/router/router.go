// Package router implements the server-side subscription index and
// fan-out engine: it tracks connected clients, their subscriptions
// indexed by (sessionId, method), and delivers EVENT messages to matching
// subscribers with per-delivery accounting.
//
// A Router holds the only strong reference to each ClientConnection; the
// hub holds only a clientId and looks connections up through
// GetClientByID when it needs to send directly, which keeps the
// Router<->ClientConnection relationship one-directional.
package router

import (
	"encoding/json"
	"sync"

	"github.com/streamspace/messagehub/internal/idgen"
	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/protocol"
)

// ClientConnection is the opaque handle the Router uses to deliver bytes.
// Its ID must be stable across its lifetime.
type ClientConnection interface {
	ID() string
	Send(data string) error
	IsOpen() bool
}

// RouteResult is returned by RouteEvent; Sent+Failed always equals
// TotalSubscribers.
type RouteResult struct {
	Sent             int
	Failed           int
	TotalSubscribers int
}

// Config configures a Router.
type Config struct {
	// Debug adds per-event fan-out counts to the log output.
	Debug bool
}

// Router is the server-side subscription and fan-out engine. It is
// stateless between process restarts; it owns no persistent state.
type Router struct {
	cfg Config

	mu       sync.RWMutex
	clients  map[string]ClientConnection
	byEvent  map[string]map[string]map[string]struct{} // sessionId -> method -> set[clientId]
	byClient map[string]map[string]map[string]struct{} // clientId -> sessionId -> set[method]
}

// New creates an empty Router.
func New(cfg Config) *Router {
	return &Router{
		cfg:      cfg,
		clients:  make(map[string]ClientConnection),
		byEvent:  make(map[string]map[string]map[string]struct{}),
		byClient: make(map[string]map[string]map[string]struct{}),
	}
}

// RegisterConnection adds conn if its ID is not already present. Repeat
// calls with the same conn.ID() are idempotent: they return the same
// clientId without duplicating state.
func (r *Router) RegisterConnection(conn ClientConnection) string {
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[id]; !exists {
		r.clients[id] = conn
		logger.Router().Info().Str("clientId", id).Msg("client registered")
	}
	return id
}

// UnregisterConnection removes clientID and cascades through both
// subscription indices, deleting any inner map/set that becomes empty.
func (r *Router) UnregisterConnection(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)

	for sessionID, methods := range r.byClient[clientID] {
		for method := range methods {
			if subs, ok := r.byEvent[sessionID][method]; ok {
				delete(subs, clientID)
				if len(subs) == 0 {
					delete(r.byEvent[sessionID], method)
				}
			}
		}
		if len(r.byEvent[sessionID]) == 0 {
			delete(r.byEvent, sessionID)
		}
	}
	delete(r.byClient, clientID)

	logger.Router().Info().Str("clientId", clientID).Msg("client unregistered")
}

// GetClientByID returns the connection for clientID, or nil if unknown.
func (r *Router) GetClientByID(clientID string) ClientConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[clientID]
}

// GetClientIDs returns every currently registered client id.
func (r *Router) GetClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe records that clientID wants EVENTs for (sessionID, method).
// sessionID and method must both be non-empty and free of ':'.
func (r *Router) Subscribe(sessionID, method, clientID string) error {
	if !isCleanKey(sessionID) || !isCleanKey(method) {
		return protocol.NewHubError(protocol.ErrInvalidMethod, "sessionId and method must not contain ':'")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byEvent[sessionID] == nil {
		r.byEvent[sessionID] = make(map[string]map[string]struct{})
	}
	if r.byEvent[sessionID][method] == nil {
		r.byEvent[sessionID][method] = make(map[string]struct{})
	}
	r.byEvent[sessionID][method][clientID] = struct{}{}

	if r.byClient[clientID] == nil {
		r.byClient[clientID] = make(map[string]map[string]struct{})
	}
	if r.byClient[clientID][sessionID] == nil {
		r.byClient[clientID][sessionID] = make(map[string]struct{})
	}
	r.byClient[clientID][sessionID][method] = struct{}{}

	logger.Router().Info().Str("clientId", clientID).Str("sessionId", sessionID).Str("method", method).Msg("client subscribed")
	return nil
}

// UnsubscribeClient removes clientID's subscription to (sessionID, method),
// deleting any container that becomes empty.
func (r *Router) UnsubscribeClient(sessionID, method, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(sessionID, method, clientID)
	logger.Router().Info().Str("clientId", clientID).Str("sessionId", sessionID).Str("method", method).Msg("client unsubscribed")
}

func (r *Router) unsubscribeLocked(sessionID, method, clientID string) {
	if subs, ok := r.byEvent[sessionID][method]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(r.byEvent[sessionID], method)
		}
	}
	if len(r.byEvent[sessionID]) == 0 {
		delete(r.byEvent, sessionID)
	}

	if methods, ok := r.byClient[clientID][sessionID]; ok {
		delete(methods, method)
		if len(methods) == 0 {
			delete(r.byClient[clientID], sessionID)
		}
	}
	if len(r.byClient[clientID]) == 0 {
		delete(r.byClient, clientID)
	}
}

// GetSubscriptionCount returns the number of subscribers for (sessionID, method).
func (r *Router) GetSubscriptionCount(sessionID, method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[sessionID][method])
}

// TotalSubscriptionCount returns the sum of GetSubscriptionCount across every
// (sessionId, method) pair currently tracked, for /metrics reporting.
func (r *Router) TotalSubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, methods := range r.byEvent {
		for _, subs := range methods {
			total += len(subs)
		}
	}
	return total
}

// RouteEvent serializes msg once and delivers it to every subscriber of
// (msg.SessionID, msg.Method), gated by ClientConnection.IsOpen(). Non-EVENT
// messages are rejected silently (return a zero RouteResult).
func (r *Router) RouteEvent(msg *protocol.HubMessage) RouteResult {
	if msg.Type != protocol.TypeEvent {
		return RouteResult{}
	}

	r.mu.RLock()
	subs := r.byEvent[msg.SessionID][msg.Method]
	snapshot := make([]ClientConnection, 0, len(subs))
	for clientID := range subs {
		if conn, ok := r.clients[clientID]; ok {
			snapshot = append(snapshot, conn)
		}
	}
	r.mu.RUnlock()

	result := RouteResult{TotalSubscribers: len(snapshot)}
	if len(snapshot) == 0 {
		return result
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Router().Error().Err(err).Str("messageId", msg.ID).Msg("failed to marshal event for routing")
		result.Failed = len(snapshot)
		return result
	}
	data := string(payload)

	for _, conn := range snapshot {
		if !conn.IsOpen() || conn.Send(data) != nil {
			result.Failed++
			continue
		}
		result.Sent++
	}

	if r.cfg.Debug {
		logger.Router().Debug().
			Str("sessionId", msg.SessionID).
			Str("method", msg.Method).
			Int("sent", result.Sent).
			Int("failed", result.Failed).
			Int("totalSubscribers", result.TotalSubscribers).
			Msg("routed event")
	}

	return result
}

// BroadcastResult is returned by Broadcast.
type BroadcastResult struct {
	Sent   int
	Failed int
}

// SendToClient delivers msg directly to clientID, bypassing subscriptions.
// Returns false if the client is unknown or the send failed.
func (r *Router) SendToClient(clientID string, msg *protocol.HubMessage) bool {
	r.mu.RLock()
	conn, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok || !conn.IsOpen() {
		return false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return conn.Send(string(payload)) == nil
}

// Broadcast sends msg to every known client regardless of subscription,
// gated by IsOpen().
func (r *Router) Broadcast(msg *protocol.HubMessage) BroadcastResult {
	r.mu.RLock()
	snapshot := make([]ClientConnection, 0, len(r.clients))
	for _, conn := range r.clients {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return BroadcastResult{Failed: len(snapshot)}
	}
	data := string(payload)

	var result BroadcastResult
	for _, conn := range snapshot {
		if !conn.IsOpen() || conn.Send(data) != nil {
			result.Failed++
			continue
		}
		result.Sent++
	}
	return result
}

// HandleMessage is a reserved extension point for application-specific
// server-side message handling; it is a no-op in this implementation.
func (r *Router) HandleMessage(msg *protocol.HubMessage, clientID string) {}

func isCleanKey(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return false
		}
	}
	return s != ""
}

// NewClientID generates a fresh UUID clientID for a new connection.
func NewClientID() string { return idgen.New() }
