// Package session implements the daemon's one piece of application logic:
// a thin in-memory session registry exercised through the session.create,
// session.list, session.get, and session.delete methods. It exists to
// drive the method-registry table end-to-end, not as a persistence layer.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/streamspace/messagehub/internal/idgen"
	"github.com/streamspace/messagehub/internal/protocol"
)

// Session is the bookkeeping record returned to callers.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is a concurrency-safe in-memory table of Sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// Create mints a new Session with the given display name.
func (s *Store) Create(name string) Session {
	sess := Session{ID: idgen.New(), Name: name, CreatedAt: time.Now()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// List returns every known Session in no particular order.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Get returns the Session with the given id, or false if unknown.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete removes id, returning false if it was not present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// createParams/idParams mirror the JSON shape callers send as a CALL's data.
type createParams struct {
	Name string `json:"name"`
}

type idParams struct {
	ID string `json:"id"`
}

// decode re-marshals data (already a decoded interface{} off the wire) into
// dst, the same round-trip the hub package's own Request helper relies on
// (internal/hub/request.go).
func decode(data interface{}, dst interface{}) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

// CreateHandler implements session.create: {name} -> Session.
func CreateHandler(store *Store) func(ctx context.Context, data interface{}) (interface{}, error) {
	return func(ctx context.Context, data interface{}) (interface{}, error) {
		var p createParams
		if err := decode(data, &p); err != nil {
			return nil, protocol.NewHubError(protocol.ErrInvalidParams, "session.create: %v", err)
		}
		return store.Create(p.Name), nil
	}
}

// ListHandler implements session.list: {} -> []Session.
func ListHandler(store *Store) func(ctx context.Context, data interface{}) (interface{}, error) {
	return func(ctx context.Context, data interface{}) (interface{}, error) {
		return store.List(), nil
	}
}

// GetHandler implements session.get: {id} -> Session.
func GetHandler(store *Store) func(ctx context.Context, data interface{}) (interface{}, error) {
	return func(ctx context.Context, data interface{}) (interface{}, error) {
		var p idParams
		if err := decode(data, &p); err != nil {
			return nil, protocol.NewHubError(protocol.ErrInvalidParams, "session.get: %v", err)
		}
		sess, ok := store.Get(p.ID)
		if !ok {
			return nil, protocol.NewHubError(protocol.ErrSessionNotFound, "session %q not found", p.ID)
		}
		return sess, nil
	}
}

// DeleteHandler implements session.delete: {id} -> {deleted bool}.
func DeleteHandler(store *Store) func(ctx context.Context, data interface{}) (interface{}, error) {
	return func(ctx context.Context, data interface{}) (interface{}, error) {
		var p idParams
		if err := decode(data, &p); err != nil {
			return nil, protocol.NewHubError(protocol.ErrInvalidParams, "session.delete: %v", err)
		}
		return map[string]bool{"deleted": store.Delete(p.ID)}, nil
	}
}
