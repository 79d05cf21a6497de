// Package wsserver implements the per-connection WebSocket server
// adapter: it wraps one already-upgraded *websocket.Conn, attaches
// the clientId the Router assigned at registration, and hands validated
// inbound messages to the hub, using the familiar writePump/readPump split
// over a buffered outbound channel.
package wsserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/router"
	"github.com/streamspace/messagehub/internal/transport"
)

// Config configures a Transport.
type Config struct {
	ClientID string
	// OnClose is invoked exactly once when the connection tears down, for
	// the caller to run Router.UnregisterConnection.
	OnClose func(clientID string)
	// SendBuffer bounds the outbound queue. Default 256.
	SendBuffer int
	// WriteTimeout bounds each frame write. Default 10s.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Transport adapts one upgraded WebSocket connection to transport.Transport.
type Transport struct {
	transport.StateHolder

	cfg  Config
	conn *websocket.Conn
	log  *zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	stopCh chan struct{}
	closed bool
}

// New wraps conn. Initialize starts its pumps.
func New(conn *websocket.Conn, cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:    cfg,
		conn:   conn,
		log:    logger.Transport("wsserver"),
		send:   make(chan []byte, cfg.SendBuffer),
		stopCh: make(chan struct{}),
	}
}

func (t *Transport) Name() string     { return "wsserver" }
func (t *Transport) ClientID() string { return t.cfg.ClientID }

func (t *Transport) Initialize(ctx context.Context) error {
	t.SetState(transport.StateConnected, nil)
	go t.readPump()
	go t.writePump()
	return nil
}

func (t *Transport) readPump() {
	defer t.teardown(nil)
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.log.Debug().Err(err).Str("clientId", t.cfg.ClientID).Msg("read loop ending")
			return
		}
		var msg protocol.HubMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.log.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}
		if !protocol.IsValidMessage(&msg) {
			t.log.Warn().Str("id", msg.ID).Msg("dropping invalid message")
			continue
		}
		msg.ClientID = t.cfg.ClientID
		t.EmitMessage(&msg)
	}
}

func (t *Transport) writePump() {
	for {
		select {
		case raw := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				t.log.Debug().Err(err).Str("clientId", t.cfg.ClientID).Msg("write loop ending")
				t.teardown(err)
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) teardown(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	close(t.stopCh)

	t.SetState(transport.StateDisconnected, cause)
	_ = t.conn.Close()
	if t.cfg.OnClose != nil {
		t.cfg.OnClose(t.cfg.ClientID)
	}
}

// Send serializes and enqueues msg. Returns TRANSPORT_ERROR if closed or
// the outbound buffer is full.
func (t *Transport) Send(ctx context.Context, msg *protocol.HubMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return protocol.NewHubError(protocol.ErrInternalError, "failed to marshal message: %v", err)
	}
	return t.SendRaw(string(raw))
}

// SendRaw enqueues an already-serialized frame, used by Adapter so the
// Router need not re-marshal a HubMessage it already serialized once.
func (t *Transport) SendRaw(data string) error {
	if t.State() != transport.StateConnected {
		return protocol.NewHubError(protocol.ErrTransportError, "wsserver connection %s is closed", t.cfg.ClientID)
	}
	select {
	case t.send <- []byte(data):
		return nil
	default:
		return protocol.NewHubError(protocol.ErrTransportError, "wsserver send buffer full for %s", t.cfg.ClientID)
	}
}

// Close tears down the connection and fires OnClose exactly once.
func (t *Transport) Close(ctx context.Context) error {
	t.teardown(nil)
	return nil
}

// Adapter implements router.ClientConnection over a Transport so the
// Router can hold it without depending on gorilla/websocket directly.
type Adapter struct {
	t *Transport
}

// NewAdapter wraps t for registration with a Router.
func NewAdapter(t *Transport) *Adapter { return &Adapter{t: t} }

func (a *Adapter) ID() string             { return a.t.ClientID() }
func (a *Adapter) Send(data string) error { return a.t.SendRaw(data) }
func (a *Adapter) IsOpen() bool           { return a.t.State() == transport.StateConnected }

var _ router.ClientConnection = (*Adapter)(nil)
