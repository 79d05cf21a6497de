// Package wsclient implements the WebSocket client transport: one JSON
// text frame per HubMessage, automatic reconnect with
// exponential backoff and jitter, and a periodic heartbeat PING. Each
// connection runs a readPump/writePump split with jittered backoff
// reconnects, and the
// outbound path uses the same send-channel-plus-pump split as the other
// transports in this tree.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/messagehub/internal/clock"
	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
)

// Config configures a wsclient Transport.
type Config struct {
	URL     string
	Headers http.Header

	// Base is the backoff unit: delay(attempt) = Base * 2^(attempt-1),
	// jittered by ±30% and floored at 100ms. Default 1s.
	Base time.Duration
	// MaxReconnectAttempts caps consecutive reconnect attempts before the
	// transport gives up and transitions to StateError. Default 5.
	MaxReconnectAttempts int
	// PingInterval is the heartbeat period. Default 30s.
	PingInterval time.Duration
	// HandshakeTimeout bounds the WebSocket upgrade. Default 10s.
	HandshakeTimeout time.Duration
	// SendBuffer bounds outbound queue depth before Send starts failing
	// with TRANSPORT_ERROR. Default 256.
	SendBuffer int
	// Clock sources backoff and heartbeat timers; defaults to the real
	// clock. A clock.NewFake() can be injected to advance those timers
	// deterministically; the jitter itself still comes from math/rand.
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Transport is the WebSocket client side of the protocol.
type Transport struct {
	transport.StateHolder

	cfg Config
	log *zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	stopCh chan struct{}
}

// New constructs a wsclient Transport. Dial happens in Initialize.
func New(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:    cfg,
		log:    logger.Transport("wsclient"),
		stopCh: make(chan struct{}),
	}
}

func (t *Transport) Name() string { return "wsclient" }

// Initialize performs the initial dial. A failure here is returned to the
// caller directly; once connected, subsequent drops are retried
// automatically in the background per the reconnect policy.
func (t *Transport) Initialize(ctx context.Context) error {
	if err := t.connect(ctx); err != nil {
		t.SetState(transport.StateError, err)
		return err
	}
	return nil
}

func (t *Transport) connect(ctx context.Context) error {
	t.SetState(transport.StateConnecting, nil)

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, t.cfg.Headers)
	if err != nil {
		return fmt.Errorf("wsclient: dial %s: %w", t.cfg.URL, err)
	}

	sendCh := make(chan []byte, t.cfg.SendBuffer)
	t.mu.Lock()
	t.conn = conn
	t.send = sendCh
	t.mu.Unlock()

	t.SetState(transport.StateConnected, nil)

	done := make(chan struct{})
	var once sync.Once
	signalDone := func() { once.Do(func() { close(done) }) }

	go t.readPump(conn, signalDone)
	go t.writePump(conn, sendCh, signalDone)
	go t.pingLoop(sendCh, done)
	go t.superviseDisconnect(done)

	return nil
}

func (t *Transport) readPump(conn *websocket.Conn, signalDone func()) {
	defer signalDone()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.log.Debug().Err(err).Msg("read loop ending")
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
		t.EmitMessage(&msg)
	}
}

func (t *Transport) writePump(conn *websocket.Conn, sendCh <-chan []byte, signalDone func()) {
	defer signalDone()
	for {
		select {
		case raw, ok := <-sendCh:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				t.log.Debug().Err(err).Msg("write loop ending")
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) pingLoop(sendCh chan<- []byte, done <-chan struct{}) {
	ticker := t.cfg.Clock.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			ping := protocol.NewPing("global", "")
			raw, err := json.Marshal(ping)
			if err != nil {
				continue
			}
			select {
			case sendCh <- raw:
			default:
				t.log.Warn().Msg("heartbeat dropped: send buffer full")
			}
		case <-done:
			return
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) superviseDisconnect(done <-chan struct{}) {
	<-done
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.SetState(transport.StateDisconnected, nil)
	t.reconnectLoop()
}

func (t *Transport) reconnectLoop() {
	for attempt := 1; attempt <= t.cfg.MaxReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt, t.cfg.Base)
		select {
		case <-t.cfg.Clock.After(delay):
		case <-t.stopCh:
			return
		}

		t.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		if err := t.connect(context.Background()); err == nil {
			return
		} else {
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		}
	}
	t.SetState(transport.StateError, fmt.Errorf("wsclient: exceeded %d reconnect attempts", t.cfg.MaxReconnectAttempts))
}

// backoffDelay computes base*2^(attempt-1) with ±30% jitter, floored at
// 100ms.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	raw := float64(base) * float64(uint64(1)<<uint(attempt-1))
	jitter := 0.7 + rand.Float64()*0.6
	d := time.Duration(raw * jitter)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// Send serializes and enqueues msg for delivery. Returns TRANSPORT_ERROR if
// not connected or if the outbound buffer is full.
func (t *Transport) Send(ctx context.Context, msg *protocol.HubMessage) error {
	if t.State() != transport.StateConnected {
		return protocol.NewHubError(protocol.ErrTransportError, "wsclient is not connected")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return protocol.NewHubError(protocol.ErrInternalError, "failed to marshal message: %v", err)
	}

	t.mu.Lock()
	sendCh := t.send
	t.mu.Unlock()
	if sendCh == nil {
		return protocol.NewHubError(protocol.ErrNotConnected, "wsclient has no active connection")
	}

	select {
	case sendCh <- raw:
		return nil
	default:
		return protocol.NewHubError(protocol.ErrTransportError, "wsclient send buffer is full")
	}
}

// Close quiesces the transport. Reconnect is disabled; the underlying
// connection, if any, is closed with a normal closure frame.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	close(t.stopCh)
	t.SetState(transport.StateDisconnected, nil)

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}
