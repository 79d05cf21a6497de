package transport

import (
	"sync"

	"github.com/streamspace/messagehub/internal/protocol"
)

// HandlerRegistry is embedded by concrete transports to implement the
// OnMessage/OnConnectionChange subscription contract without repeating the
// same bookkeeping in every transport package.
type HandlerRegistry struct {
	mu                 sync.Mutex
	messageHandlers    map[int]MessageHandler
	connectionHandlers map[int]ConnectionChangeHandler
	nextID             int
}

// OnMessage registers handler and returns a function that removes it.
func (r *HandlerRegistry) OnMessage(handler MessageHandler) UnsubscribeFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messageHandlers == nil {
		r.messageHandlers = make(map[int]MessageHandler)
	}
	id := r.nextID
	r.nextID++
	r.messageHandlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.messageHandlers, id)
	}
}

// OnConnectionChange registers handler and returns a function that removes it.
func (r *HandlerRegistry) OnConnectionChange(handler ConnectionChangeHandler) UnsubscribeFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectionHandlers == nil {
		r.connectionHandlers = make(map[int]ConnectionChangeHandler)
	}
	id := r.nextID
	r.nextID++
	r.connectionHandlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.connectionHandlers, id)
	}
}

// EmitMessage invokes every registered message handler with msg.
func (r *HandlerRegistry) EmitMessage(msg *protocol.HubMessage) {
	r.mu.Lock()
	handlers := make([]MessageHandler, 0, len(r.messageHandlers))
	for _, h := range r.messageHandlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// EmitConnectionChange invokes every registered connection-change handler.
func (r *HandlerRegistry) EmitConnectionChange(state ConnectionState, err error) {
	r.mu.Lock()
	handlers := make([]ConnectionChangeHandler, 0, len(r.connectionHandlers))
	for _, h := range r.connectionHandlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(state, err)
	}
}

// StateHolder tracks the current ConnectionState under a mutex and emits
// changes through an embedded HandlerRegistry.
type StateHolder struct {
	HandlerRegistry
	mu    sync.RWMutex
	state ConnectionState
}

// State returns the current state.
func (s *StateHolder) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsReady reports whether the current state is StateConnected.
func (s *StateHolder) IsReady() bool {
	return s.State() == StateConnected
}

// SetState updates the state and emits a connection-change event if it
// actually changed.
func (s *StateHolder) SetState(state ConnectionState, err error) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.EmitConnectionChange(state, err)
	}
}
