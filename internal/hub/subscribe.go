package hub

import (
	"context"

	"github.com/streamspace/messagehub/internal/protocol"
)

// SubscriptionHandle identifies a registration made through Subscribe or
// OnEvent, for later removal via Unsubscribe.
type SubscriptionHandle struct {
	id int64
}

// OnEvent registers an additional local listener for inbound EVENTs
// matching method, across every sessionId. Returns an unsubscribe func.
func (h *MessageHub) OnEvent(method string, handler EventHandler) (func(), error) {
	if !protocol.ValidateMethod(method) {
		return nil, protocol.NewHubError(protocol.ErrInvalidMethod, "invalid method %q", method)
	}
	var entry *eventHandlerEntry
	h.do(func() {
		h.nextHandlerID++
		entry = &eventHandlerEntry{id: h.nextHandlerID, method: method, handler: handler}
		h.eventHandlers[method] = append(h.eventHandlers[method], entry)
	})
	if entry == nil {
		return nil, protocol.NewHubError(protocol.ErrNotConnected, "hub is stopped")
	}
	return func() { h.removeEventHandler(method, entry.id) }, nil
}

// Subscribe registers a local event handler scoped to sessionID and
// method. With ack, it additionally sends SUBSCRIBE and blocks until the
// matching SUBSCRIBED arrives (or ctx/timeout expires); without ack the
// registration is purely local ("optimistic").
func (h *MessageHub) Subscribe(ctx context.Context, sessionID, method string, handler EventHandler, ack bool) (*SubscriptionHandle, error) {
	if !protocol.ValidateMethod(method) {
		return nil, protocol.NewHubError(protocol.ErrInvalidMethod, "invalid method %q", method)
	}
	if sessionID == "" {
		sessionID = h.cfg.DefaultSessionID
	}

	var entry *eventHandlerEntry
	h.do(func() {
		h.nextHandlerID++
		entry = &eventHandlerEntry{id: h.nextHandlerID, sessionID: sessionID, method: method, handler: handler}
		h.eventHandlers[method] = append(h.eventHandlers[method], entry)
	})
	if entry == nil {
		return nil, protocol.NewHubError(protocol.ErrNotConnected, "hub is stopped")
	}

	if !ack {
		return &SubscriptionHandle{id: entry.id}, nil
	}

	msg := protocol.NewSubscribe(sessionID, method, protocol.NewOptions{})
	var t interface {
		Send(context.Context, *protocol.HubMessage) error
	}
	var rejected error
	ps := &pendingSub{resultCh: make(chan error, 1)}
	h.do(func() {
		if h.transport == nil {
			rejected = protocol.NewHubError(protocol.ErrNotConnected, "no transport registered")
			return
		}
		t = h.transport
		ps.timer = h.cfg.Clock.AfterFunc(h.cfg.RequestTimeout, func() {
			h.do(func() {
				if _, ok := h.pendingSubs[msg.ID]; !ok {
					return
				}
				delete(h.pendingSubs, msg.ID)
				deliverErr(ps.resultCh, protocol.NewHubError(protocol.ErrTimeout, "subscribe ack for %q timed out", method))
			})
		})
		h.pendingSubs[msg.ID] = ps
	})
	if rejected != nil {
		h.removeEventHandler(method, entry.id)
		return nil, rejected
	}
	if t == nil {
		h.removeEventHandler(method, entry.id)
		return nil, protocol.NewHubError(protocol.ErrNotConnected, "hub is stopped")
	}

	if err := t.Send(ctx, msg); err != nil {
		h.do(func() {
			if cur, ok := h.pendingSubs[msg.ID]; ok {
				cur.timer.Stop()
				delete(h.pendingSubs, msg.ID)
			}
		})
		h.removeEventHandler(method, entry.id)
		return nil, protocol.NewHubError(protocol.ErrTransportError, "send failed: %v", err)
	}

	select {
	case err := <-ps.resultCh:
		if err != nil {
			h.removeEventHandler(method, entry.id)
			return nil, err
		}
		h.do(func() {
			entry.acked = true
			entry.subMsgID = msg.ID
		})
		return &SubscriptionHandle{id: entry.id}, nil
	case <-ctx.Done():
		h.do(func() {
			if cur, ok := h.pendingSubs[msg.ID]; ok {
				cur.timer.Stop()
				delete(h.pendingSubs, msg.ID)
			}
		})
		h.removeEventHandler(method, entry.id)
		return nil, ctx.Err()
	}
}

// Unsubscribe removes handle's local handler, sending UNSUBSCRIBE if it had
// previously been acknowledged.
func (h *MessageHub) Unsubscribe(ctx context.Context, handle *SubscriptionHandle) error {
	if handle == nil {
		return nil
	}
	var found *eventHandlerEntry
	var method string
	h.do(func() {
		for m, entries := range h.eventHandlers {
			for _, e := range entries {
				if e.id == handle.id {
					found = e
					method = m
					return
				}
			}
		}
	})
	if found == nil {
		return nil
	}
	h.removeEventHandler(method, handle.id)

	if found.acked {
		var t interface {
			Send(context.Context, *protocol.HubMessage) error
		}
		h.do(func() { t = h.transport })
		if t != nil {
			msg := protocol.NewUnsubscribe(found.sessionID, found.method, protocol.NewOptions{})
			return t.Send(ctx, msg)
		}
	}
	return nil
}

// UnsubscribeAll removes every registered handler, sending UNSUBSCRIBE for
// any that had been acknowledged.
func (h *MessageHub) UnsubscribeAll(ctx context.Context) error {
	var ackedSessionMethods [][2]string
	h.do(func() {
		for method, entries := range h.eventHandlers {
			for _, e := range entries {
				if e.acked {
					ackedSessionMethods = append(ackedSessionMethods, [2]string{e.sessionID, method})
				}
			}
		}
		h.eventHandlers = make(map[string][]*eventHandlerEntry)
	})

	var t interface {
		Send(context.Context, *protocol.HubMessage) error
	}
	h.do(func() { t = h.transport })
	if t == nil {
		return nil
	}
	for _, sm := range ackedSessionMethods {
		msg := protocol.NewUnsubscribe(sm[0], sm[1], protocol.NewOptions{})
		if err := t.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (h *MessageHub) removeEventHandler(method string, id int64) {
	h.do(func() {
		entries := h.eventHandlers[method]
		for i, e := range entries {
			if e.id == id {
				h.eventHandlers[method] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(h.eventHandlers[method]) == 0 {
			delete(h.eventHandlers, method)
		}
	})
}
