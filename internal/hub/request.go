package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
)

// RequestOptions configures a single call issued through Request.
type RequestOptions struct {
	// Timeout overrides the hub's default RequestTimeout when non-zero.
	Timeout time.Duration
}

// Request issues a CALL for method and decodes the matching RESULT's data
// into T. Go methods cannot carry their own type parameters, so this is a
// package-level function taking the hub explicitly, in the same shape as
// a generic helper wrapped around a non-generic JSON-RPC transport.
func Request[T any](ctx context.Context, h *MessageHub, sessionID, method string, data interface{}, opts RequestOptions) (T, error) {
	var zero T

	raw, err := h.call(ctx, sessionID, method, data, opts)
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, nil
	}

	// raw already round-tripped through JSON when the RESULT arrived, so a
	// second marshal/unmarshal is the simplest correct way to project it
	// onto T without reflecting over arbitrary concrete types by hand.
	buf, err := json.Marshal(raw)
	if err != nil {
		return zero, protocol.NewHubError(protocol.ErrInternalError, "failed to re-marshal result: %v", err)
	}
	var out T
	if err := json.Unmarshal(buf, &out); err != nil {
		return zero, protocol.NewHubError(protocol.ErrInternalError, "failed to decode result: %v", err)
	}
	return out, nil
}

// call is the untyped core of Request: validate, enforce backpressure,
// send, and await RESULT/ERROR/timeout/disconnect.
func (h *MessageHub) call(ctx context.Context, sessionID, method string, data interface{}, opts RequestOptions) (interface{}, error) {
	if !protocol.ValidateMethod(method) {
		return nil, protocol.NewHubError(protocol.ErrInvalidMethod, "invalid method %q", method)
	}
	if sessionID == "" {
		sessionID = h.cfg.DefaultSessionID
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.cfg.RequestTimeout
	}

	msg := protocol.NewCall(sessionID, method, protocol.NewOptions{Data: data})

	var (
		t        transport.Transport
		rejected error
		pc       *pendingCall
	)
	h.do(func() {
		if h.transport == nil {
			rejected = protocol.NewHubError(protocol.ErrNotConnected, "no transport registered")
			return
		}
		t = h.transport
		if len(h.pending) >= h.cfg.MaxPendingCalls {
			rejected = protocol.NewHubError(protocol.ErrTransportError, "Too many pending calls (limit %d)", h.cfg.MaxPendingCalls)
			return
		}
		msg.Sequence = h.nextOutboundSeq(sessionID)

		pc = &pendingCall{method: method, resultCh: make(chan callOutcome, 1)}
		pc.timer = h.cfg.Clock.AfterFunc(timeout, func() {
			h.do(func() {
				if _, ok := h.pending[msg.ID]; !ok {
					return
				}
				delete(h.pending, msg.ID)
				deliver(pc.resultCh, callOutcome{err: protocol.NewHubError(protocol.ErrTimeout, "request %q timed out after %s", method, timeout)})
			})
		})
		h.pending[msg.ID] = pc
	})
	if rejected != nil {
		return nil, rejected
	}
	if t == nil {
		// The actor loop is stopped; nothing could ever answer this call.
		return nil, protocol.NewHubError(protocol.ErrNotConnected, "hub is stopped")
	}

	if err := t.Send(ctx, msg); err != nil {
		h.do(func() {
			if cur, ok := h.pending[msg.ID]; ok && cur == pc {
				cur.timer.Stop()
				delete(h.pending, msg.ID)
			}
		})
		return nil, protocol.NewHubError(protocol.ErrTransportError, "send failed: %v", err)
	}

	select {
	case outcome := <-pc.resultCh:
		return outcome.data, outcome.err
	case <-ctx.Done():
		h.do(func() {
			if cur, ok := h.pending[msg.ID]; ok && cur == pc {
				cur.timer.Stop()
				delete(h.pending, msg.ID)
			}
		})
		return nil, ctx.Err()
	}
}

// Event fires a one-way EVENT message; it never awaits acknowledgement.
// Only the method name is checked synchronously — sequencing and the send
// itself run on the actor loop, so an event handler (which executes on that
// loop) may emit follow-up events without deadlocking. Send failures are
// logged, not returned; there is no acknowledgement to report.
func (h *MessageHub) Event(ctx context.Context, sessionID, method string, data interface{}) error {
	if !protocol.ValidateMethod(method) {
		return protocol.NewHubError(protocol.ErrInvalidMethod, "invalid method %q", method)
	}
	if sessionID == "" {
		sessionID = h.cfg.DefaultSessionID
	}

	msg := protocol.NewEvent(sessionID, method, protocol.NewOptions{Data: data})

	h.submit(func() {
		if h.transport == nil {
			h.log.Warn().Str("method", method).Msg("dropping event: no transport registered")
			return
		}
		msg.Sequence = h.nextOutboundSeq(sessionID)
		if err := h.transport.Send(ctx, msg); err != nil {
			h.log.Error().Err(err).Str("method", method).Msg("failed to send event")
		}
	})
	return nil
}
