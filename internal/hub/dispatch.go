package hub

import (
	"context"
	"fmt"

	"github.com/streamspace/messagehub/internal/protocol"
)

// dispatch routes one inbound, already-validated HubMessage. It runs on the
// actor loop (called only from run), so it may touch hub state directly.
func (h *MessageHub) dispatch(msg *protocol.HubMessage) {
	h.trackInboundSequence(msg)

	switch msg.Type {
	case protocol.TypeEvent:
		h.dispatchEvent(msg)
	case protocol.TypeCall:
		h.dispatchCall(msg)
	case protocol.TypeResult:
		h.resolvePending(msg.RequestID, callOutcome{data: msg.Data})
	case protocol.TypeError:
		h.resolvePending(msg.RequestID, callOutcome{err: protocol.FromErrorMessage(msg)})
	case protocol.TypeSubscribe:
		h.dispatchSubscribe(msg)
	case protocol.TypeUnsubscribe:
		h.dispatchUnsubscribe(msg)
	case protocol.TypeSubscribed:
		h.resolvePendingSub(msg.RequestID, nil)
	case protocol.TypeUnsubscribed:
		h.resolvePendingSub(msg.RequestID, nil)
	case protocol.TypePing:
		h.dispatchPing(msg)
	case protocol.TypePong:
		h.log.Debug().Str("sessionId", msg.SessionID).Msg("pong received")
	default:
		h.log.Warn().Str("type", string(msg.Type)).Msg("dropping message of unhandled type")
	}
}

func (h *MessageHub) trackInboundSequence(msg *protocol.HubMessage) {
	if msg.ClientID == "" || msg.Sequence <= 0 {
		return
	}
	key := msg.ClientID + ":" + msg.SessionID
	last := h.inboundSeq[key]
	switch {
	case msg.Sequence <= last:
		h.log.Warn().Str("clientId", msg.ClientID).Str("sessionId", msg.SessionID).
			Int64("sequence", msg.Sequence).Int64("lastSeen", last).
			Msg("duplicate or reordered sequence")
	case msg.Sequence > last+1 && last != 0:
		h.log.Warn().Str("clientId", msg.ClientID).Str("sessionId", msg.SessionID).
			Int64("sequence", msg.Sequence).Int64("lastSeen", last).
			Msg("sequence gap detected")
	}
	if msg.Sequence > last {
		h.inboundSeq[key] = msg.Sequence
	}
}

// CleanupClientSequence forgets the inbound sequence state tracked for
// clientID across all sessions. Nothing in this package or the transports
// calls it on disconnect; callers invoke it themselves. Cleanup resets all
// inbound sequence state at once.
func (h *MessageHub) CleanupClientSequence(clientID string) {
	h.do(func() {
		prefix := clientID + ":"
		for key := range h.inboundSeq {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				delete(h.inboundSeq, key)
			}
		}
	})
}

func (h *MessageHub) resolvePending(requestID string, outcome callOutcome) {
	pc, ok := h.pending[requestID]
	if !ok {
		h.log.Warn().Str("requestId", requestID).Msg("orphan response: no pending call")
		return
	}
	pc.timer.Stop()
	delete(h.pending, requestID)
	deliver(pc.resultCh, outcome)
}

func (h *MessageHub) resolvePendingSub(requestID string, err error) {
	ps, ok := h.pendingSubs[requestID]
	if !ok {
		return
	}
	ps.timer.Stop()
	delete(h.pendingSubs, requestID)
	deliverErr(ps.resultCh, err)
}

func (h *MessageHub) dispatchPing(msg *protocol.HubMessage) {
	if h.transport == nil {
		return
	}
	reply := protocol.NewPong(msg.SessionID, msg.Method, msg.ID)
	reply.Sequence = h.nextOutboundSeq(msg.SessionID)
	if err := h.transport.Send(context.Background(), reply); err != nil {
		h.log.Error().Err(err).Msg("failed to send pong")
	}
}

// dispatchEvent applies the recursion-depth bound, invokes matching local
// handlers in registration order, and — when a Router is attached — fans
// the event out to remote subscribers server-side.
func (h *MessageHub) dispatchEvent(msg *protocol.HubMessage) {
	depth := h.eventDepth[msg.ID]
	if depth >= h.cfg.MaxEventDepth {
		h.log.Warn().Str("messageId", msg.ID).Str("method", msg.Method).Int("depth", depth).
			Msg("event recursion depth exceeded, dropping")
		return
	}
	h.eventDepth[msg.ID] = depth + 1
	defer func() {
		if h.eventDepth[msg.ID] <= 1 {
			delete(h.eventDepth, msg.ID)
		} else {
			h.eventDepth[msg.ID]--
		}
	}()

	for _, entry := range append([]*eventHandlerEntry(nil), h.eventHandlers[msg.Method]...) {
		if entry.sessionID != "" && entry.sessionID != msg.SessionID {
			continue
		}
		invokeHandler(h, entry.handler, msg.Data)
	}

	if h.router != nil {
		h.router.RouteEvent(msg)
	}
}

// invokeHandler runs handler, recovering a panic into a log line so one
// misbehaving handler cannot abort the dispatch loop for the others.
func invokeHandler(h *MessageHub, handler EventHandler, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("event handler panicked")
		}
	}()
	handler(data)
}

func (h *MessageHub) dispatchCall(msg *protocol.HubMessage) {
	isRoomCall := msg.Method == "room.join" || msg.Method == "room.leave"
	roomClientID := msg.ClientID
	if roomClientID == "" {
		roomClientID = h.clientID
	}
	if isRoomCall && h.router != nil && h.channels != nil && roomClientID != "" {
		h.dispatchRoomCall(msg, roomClientID)
		return
	}

	handler, ok := h.requestHandlers[msg.Method]
	if !ok {
		h.replyError(msg, protocol.ErrMethodNotFound, fmt.Sprintf("no handler registered for method %q", msg.Method))
		return
	}

	if h.transport == nil {
		return
	}
	go func() {
		result, err := func() (result interface{}, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panicked: %v", r)
				}
			}()
			return handler(context.Background(), msg.Data)
		}()

		if err != nil {
			h.do(func() { h.replyError(msg, protocol.ErrHandlerError, err.Error()) })
			return
		}
		reply := protocol.NewResult(msg.SessionID, msg.ID, result)
		h.do(func() {
			if h.transport == nil {
				return
			}
			reply.Sequence = h.nextOutboundSeq(msg.SessionID)
			if sendErr := h.transport.Send(context.Background(), reply); sendErr != nil {
				h.log.Error().Err(sendErr).Str("method", msg.Method).Msg("failed to send result")
			}
		})
	}()
}

// replyError sends an ERROR answering msg.ID. Must run on the actor loop
// (it assigns a sequence number directly).
func (h *MessageHub) replyError(msg *protocol.HubMessage, code protocol.ErrorCode, errMsg string) {
	if h.transport == nil {
		return
	}
	reply := protocol.NewErrorMessage(msg.SessionID, msg.ID, errMsg, string(code))
	reply.Sequence = h.nextOutboundSeq(msg.SessionID)
	if err := h.transport.Send(context.Background(), reply); err != nil {
		h.log.Error().Err(err).Msg("failed to send error reply")
	}
}

// dispatchSubscribe answers an inbound SUBSCRIBE. It acknowledges with
// SUBSCRIBED so the sending peer's Subscribe(ack=true) resolves regardless
// of topology; when a Router and a clientId are known (the server side of a
// Router-attached hub), it additionally records the subscription so
// RouteEvent fans future EVENTs out to that client — the same "mutate
// attached state, then reply" shape as dispatchRoomCall below. If the
// Router rejects the keys, the reply is an ERROR{INVALID_METHOD} instead.
func (h *MessageHub) dispatchSubscribe(msg *protocol.HubMessage) {
	clientID := msg.ClientID
	if clientID == "" {
		clientID = h.clientID
	}
	if h.router != nil && clientID != "" {
		if err := h.router.Subscribe(msg.SessionID, msg.Method, clientID); err != nil {
			h.replyError(msg, protocol.ErrInvalidMethod, err.Error())
			return
		}
	}
	if h.transport == nil {
		return
	}
	reply := protocol.NewSubscribed(msg.SessionID, msg.Method, msg.ID)
	reply.Sequence = h.nextOutboundSeq(msg.SessionID)
	if err := h.transport.Send(context.Background(), reply); err != nil {
		h.log.Error().Err(err).Msg("failed to send subscribed ack")
	}
}

// dispatchUnsubscribe answers an inbound UNSUBSCRIBE, mirroring
// dispatchSubscribe: always acknowledges with UNSUBSCRIBED, and additionally
// removes the Router-side subscription when attached.
func (h *MessageHub) dispatchUnsubscribe(msg *protocol.HubMessage) {
	clientID := msg.ClientID
	if clientID == "" {
		clientID = h.clientID
	}
	if h.router != nil && clientID != "" {
		h.router.UnsubscribeClient(msg.SessionID, msg.Method, clientID)
	}
	if h.transport == nil {
		return
	}
	reply := protocol.NewUnsubscribed(msg.SessionID, msg.Method, msg.ID)
	reply.Sequence = h.nextOutboundSeq(msg.SessionID)
	if err := h.transport.Send(context.Background(), reply); err != nil {
		h.log.Error().Err(err).Msg("failed to send unsubscribed ack")
	}
}

// dispatchRoomCall handles room.join/room.leave: when a Router and this
// peer's own clientId are known, it mutates the attached ChannelManager and
// always answers with RESULT.
func (h *MessageHub) dispatchRoomCall(msg *protocol.HubMessage, clientID string) {
	channel, _ := msg.Data.(string)
	if m, ok := msg.Data.(map[string]interface{}); ok {
		if c, ok := m["channel"].(string); ok {
			channel = c
		}
	}

	if channel != "" {
		switch msg.Method {
		case "room.join":
			h.channels.Join(msg.SessionID, channel, clientID)
		case "room.leave":
			h.channels.Leave(msg.SessionID, channel, clientID)
		}
	}

	if h.transport == nil {
		return
	}
	reply := protocol.NewResult(msg.SessionID, msg.ID, map[string]interface{}{"channel": channel})
	reply.Sequence = h.nextOutboundSeq(msg.SessionID)
	if err := h.transport.Send(context.Background(), reply); err != nil {
		h.log.Error().Err(err).Msg("failed to send room call result")
	}
}
