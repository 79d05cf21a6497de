// Package unixsocket implements the Unix domain socket transport:
// newline-delimited JSON (NDJSON) framing over net.Conn, in either
// listening (server) or dialing (client) mode. The read-loop/write-queue
// split mirrors the pump pair used by the WebSocket transports, adapted
// from frame-per-message WebSocket I/O to a raw byte stream that needs its
// own delimiter.
package unixsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
)

// Mode selects whether the transport listens for one connection (Server)
// or dials an existing socket (Client).
type Mode int

const (
	ModeServer Mode = iota
	ModeClient
)

// Config configures a unixsocket Transport.
type Config struct {
	Mode Mode
	Path string

	// SendBuffer bounds the outbound queue. Default 256.
	SendBuffer int
	// DialTimeout bounds a client-mode connection attempt. Default 5s.
	DialTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// DaemonSocketPath returns the conventional per-daemon socket path:
// $TMPDIR/messagehub-<daemon>.sock, falling back to /tmp when $TMPDIR is
// unset.
func DaemonSocketPath(daemon string) string {
	dir := os.Getenv("TMPDIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, fmt.Sprintf("messagehub-%s.sock", daemon))
}

// Transport is one NDJSON connection, either the listening server side or
// the dialing client side.
type Transport struct {
	transport.StateHolder

	cfg Config
	log *zerolog.Logger

	listener net.Listener

	mu     sync.Mutex
	conn   net.Conn
	send   chan []byte
	stopCh chan struct{}
	closed bool
}

// New constructs a unixsocket Transport. Connection happens in Initialize.
func New(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:    cfg,
		log:    logger.Transport("unixsocket"),
		stopCh: make(chan struct{}),
	}
}

func (t *Transport) Name() string { return "unixsocket" }

// Initialize listens (server) or dials (client) and starts the pumps.
func (t *Transport) Initialize(ctx context.Context) error {
	t.SetState(transport.StateConnecting, nil)

	var conn net.Conn
	var err error
	switch t.cfg.Mode {
	case ModeServer:
		conn, err = t.accept()
	default:
		conn, err = t.dial(ctx)
	}
	if err != nil {
		t.SetState(transport.StateError, err)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.send = make(chan []byte, t.cfg.SendBuffer)
	sendCh := t.send
	t.mu.Unlock()

	t.SetState(transport.StateConnected, nil)
	go t.readPump(conn)
	go t.writePump(conn, sendCh)
	return nil
}

// accept unlinks any stale socket file left behind by a prior crash, then
// listens and blocks for exactly one connection.
func (t *Transport) accept() (net.Conn, error) {
	if _, err := os.Stat(t.cfg.Path); err == nil {
		_ = os.Remove(t.cfg.Path)
	}
	ln, err := net.Listen("unix", t.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("unixsocket: listen %s: %w", t.cfg.Path, err)
	}
	t.listener = ln
	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("unixsocket: accept %s: %w", t.cfg.Path, err)
	}
	return conn, nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("unixsocket: dial %s: %w", t.cfg.Path, err)
	}
	return conn, nil
}

func (t *Transport) readPump(conn net.Conn) {
	defer t.teardown(nil)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg protocol.HubMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			t.log.Warn().Err(err).Msg("dropping unparseable line")
			continue
		}
		if !protocol.IsValidMessage(&msg) {
			t.log.Warn().Str("id", msg.ID).Msg("dropping invalid message")
			continue
		}
		t.EmitMessage(&msg)
	}
}

func (t *Transport) writePump(conn net.Conn, sendCh <-chan []byte) {
	w := bufio.NewWriter(conn)
	for {
		select {
		case raw := <-sendCh:
			if _, err := w.Write(raw); err != nil {
				t.log.Debug().Err(err).Msg("write loop ending")
				t.teardown(err)
				return
			}
			if err := w.WriteByte('\n'); err != nil {
				t.teardown(err)
				return
			}
			if err := w.Flush(); err != nil {
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
	conn := t.conn
	t.mu.Unlock()
	close(t.stopCh)

	t.SetState(transport.StateDisconnected, cause)
	if conn != nil {
		_ = conn.Close()
	}
	if t.listener != nil {
		_ = t.listener.Close()
		if t.cfg.Mode == ModeServer {
			_ = os.Remove(t.cfg.Path)
		}
	}
}

// Send serializes msg as one NDJSON line and enqueues it.
func (t *Transport) Send(ctx context.Context, msg *protocol.HubMessage) error {
	if t.State() != transport.StateConnected {
		return protocol.NewHubError(protocol.ErrTransportError, "unixsocket transport is not connected")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return protocol.NewHubError(protocol.ErrInternalError, "failed to marshal message: %v", err)
	}

	t.mu.Lock()
	sendCh := t.send
	t.mu.Unlock()
	if sendCh == nil {
		return protocol.NewHubError(protocol.ErrNotConnected, "unixsocket transport has no active connection")
	}

	select {
	case sendCh <- raw:
		return nil
	default:
		return protocol.NewHubError(protocol.ErrTransportError, "unixsocket send buffer is full")
	}
}

// Close tears down the connection, and for server mode removes the socket
// file so a subsequent Initialize can re-listen cleanly.
func (t *Transport) Close(ctx context.Context) error {
	t.teardown(nil)
	return nil
}
