// Package hub implements the MessageHub: the per-peer multiplexer of RPC
// calls, events, subscriptions, and heartbeats over a single transport. A
// single goroutine (the "actor loop") owns every piece of mutable
// state — pending calls, subscriptions, sequence counters, the event
// recursion map — so the rest of the package never needs a mutex: callers
// submit closures through a command channel and the actor runs them one at
// a time, in arrival order.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamspace/messagehub/internal/channels"
	"github.com/streamspace/messagehub/internal/clock"
	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/router"
	"github.com/streamspace/messagehub/internal/transport"
)

// RequestHandler answers an inbound CALL. Returning an error produces an
// ERROR{errorCode=HANDLER_ERROR} reply.
type RequestHandler func(ctx context.Context, data interface{}) (interface{}, error)

// EventHandler observes an inbound EVENT.
type EventHandler func(data interface{})

type callOutcome struct {
	data interface{}
	err  error
}

type pendingCall struct {
	method   string
	resultCh chan callOutcome
	timer    clock.Timer
}

type pendingSub struct {
	resultCh chan error
	timer    clock.Timer
}

type eventHandlerEntry struct {
	id        int64
	sessionID string // empty means "any session" (registered via OnEvent)
	method    string
	handler   EventHandler
	acked     bool
	subMsgID  string
}

// MessageHub is the per-peer multiplexer. The zero value is not usable;
// construct with New.
type MessageHub struct {
	cfg Config
	log *zerolog.Logger

	transport transport.Transport
	unsubMsg  transport.UnsubscribeFunc
	unsubConn transport.UnsubscribeFunc

	router   *router.Router
	channels *channels.Manager
	clientID string // this peer's own clientId, when attached to a Router

	cmds     chan func()
	inbound  chan *protocol.HubMessage
	stopCh   chan struct{}
	stopOnce sync.Once

	pending         map[string]*pendingCall
	pendingSubs     map[string]*pendingSub
	requestHandlers map[string]RequestHandler
	eventHandlers   map[string][]*eventHandlerEntry
	nextHandlerID   int64
	eventDepth      map[string]int
	outboundSeq     map[string]int64
	inboundSeq      map[string]int64

	cleanupOnce sync.Once
}

// New constructs a MessageHub with no transport registered yet.
func New(cfg Config) *MessageHub {
	cfg.applyDefaults()
	h := &MessageHub{
		cfg:             cfg,
		log:             logger.Hub(),
		cmds:            make(chan func(), 64),
		inbound:         make(chan *protocol.HubMessage, 256),
		stopCh:          make(chan struct{}),
		pending:         make(map[string]*pendingCall),
		pendingSubs:     make(map[string]*pendingSub),
		requestHandlers: make(map[string]RequestHandler),
		eventHandlers:   make(map[string][]*eventHandlerEntry),
		eventDepth:      make(map[string]int),
		outboundSeq:     make(map[string]int64),
		inboundSeq:      make(map[string]int64),
	}
	go h.run()
	return h
}

func (h *MessageHub) run() {
	for {
		select {
		case msg := <-h.inbound:
			h.dispatch(msg)
		case cmd := <-h.cmds:
			cmd()
		case <-h.stopCh:
			return
		}
	}
}

// do submits fn to the actor loop and blocks until it has run, giving fn
// exclusive access to hub state without a mutex. After Stop, fn is silently
// skipped instead of blocking forever on a dead loop.
func (h *MessageHub) do(fn func()) {
	done := make(chan struct{})
	select {
	case h.cmds <- func() {
		fn()
		close(done)
	}:
	case <-h.stopCh:
		return
	}
	select {
	case <-done:
	case <-h.stopCh:
	}
}

// submit enqueues fn on the actor loop without waiting for it to run. Safe
// to call from within an event handler (which itself runs on the actor
// loop), where a blocking do would deadlock.
func (h *MessageHub) submit(fn func()) {
	select {
	case h.cmds <- fn:
	case <-h.stopCh:
	default:
		go func() {
			select {
			case h.cmds <- fn:
			case <-h.stopCh:
			}
		}()
	}
}

// Stop terminates the actor loop. It does not touch transports or pending
// state; call Cleanup first for a graceful shutdown.
func (h *MessageHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// RegisterTransport installs t as the hub's single send path and subscribes
// to its inbound stream. A prior registration is rejected unless Cleanup
// has run since.
func (h *MessageHub) RegisterTransport(t transport.Transport) error {
	var err error
	h.do(func() {
		if h.transport != nil {
			err = protocol.NewHubError(protocol.ErrInternalError, "a transport is already registered; call Cleanup first")
			return
		}
		h.transport = t
		h.unsubMsg = t.OnMessage(func(msg *protocol.HubMessage) {
			select {
			case h.inbound <- msg:
			case <-h.stopCh:
			}
		})
		h.unsubConn = t.OnConnectionChange(func(state transport.ConnectionState, connErr error) {
			if state == transport.StateDisconnected || state == transport.StateError {
				h.do(func() { h.rejectAllPending(connErr) })
			}
		})
	})
	return err
}

// AttachRouter wires r and this peer's clientID: inbound SUBSCRIBE and
// UNSUBSCRIBE then update r's subscription index, inbound EVENTs are fanned
// out through r, and, together with a ChannelManager attached via
// AttachChannels, room.join/room.leave CALLs mutate channel membership.
func (h *MessageHub) AttachRouter(r *router.Router, clientID string) {
	h.do(func() {
		h.router = r
		h.clientID = clientID
	})
}

// AttachChannels wires the ChannelManager used by room.join/room.leave.
func (h *MessageHub) AttachChannels(c *channels.Manager) {
	h.do(func() { h.channels = c })
}

// OnRequest registers the sole server-side handler for method. A later
// call with the same method replaces the prior handler.
func (h *MessageHub) OnRequest(method string, handler RequestHandler) error {
	if !protocol.ValidateMethod(method) {
		return protocol.NewHubError(protocol.ErrInvalidMethod, "invalid method %q", method)
	}
	h.do(func() { h.requestHandlers[method] = handler })
	return nil
}

// GetPendingCallCount reports the current size of the pending-call table.
func (h *MessageHub) GetPendingCallCount() int {
	var n int
	h.do(func() { n = len(h.pending) })
	return n
}

// rejectAllPending fails every outstanding Request with TRANSPORT_ERROR,
// used on disconnect and by Cleanup. Must run on the actor loop.
func (h *MessageHub) rejectAllPending(cause error) {
	msg := "transport disconnected"
	if cause != nil {
		msg = fmt.Sprintf("transport disconnected: %v", cause)
	}
	for id, pc := range h.pending {
		pc.timer.Stop()
		deliver(pc.resultCh, callOutcome{err: protocol.NewHubError(protocol.ErrTransportError, "%s", msg)})
		delete(h.pending, id)
	}
	for id, ps := range h.pendingSubs {
		ps.timer.Stop()
		deliverErr(ps.resultCh, protocol.NewHubError(protocol.ErrTransportError, "%s", msg))
		delete(h.pendingSubs, id)
	}
}

// Cleanup cancels all pending calls with TRANSPORT_ERROR, clears
// subscriptions and the event-depth map, and resets sequence counters. It
// is idempotent and is intended to be final for the instance.
func (h *MessageHub) Cleanup() {
	h.cleanupOnce.Do(func() {
		h.do(func() {
			h.rejectAllPending(nil)
			h.eventHandlers = make(map[string][]*eventHandlerEntry)
			h.requestHandlers = make(map[string]RequestHandler)
			h.eventDepth = make(map[string]int)
			h.outboundSeq = make(map[string]int64)
			h.inboundSeq = make(map[string]int64)
			if h.unsubMsg != nil {
				h.unsubMsg()
			}
			if h.unsubConn != nil {
				h.unsubConn()
			}
			h.transport = nil
		})
	})
}

func (h *MessageHub) nextOutboundSeq(sessionID string) int64 {
	h.outboundSeq[sessionID]++
	return h.outboundSeq[sessionID]
}

func deliver(ch chan callOutcome, v callOutcome) {
	select {
	case ch <- v:
	default:
	}
}

func deliverErr(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
