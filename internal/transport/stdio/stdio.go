// Package stdio implements the stdio/NDJSON transport: one HubMessage per
// line, read from an io.Reader and written to an io.Writer. Three modes cover the supervisor/child relationship: Parent
// talks to a child process's stdin/stdout, Child talks to its own
// inherited stdin/stdout (and must never close them), and Streams wraps
// arbitrary pre-wired reader/writer pairs (tests, pipes). The line reader
// tolerates \r\n and blank lines, since a child process's stdout is not
// guaranteed to use bare \n.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
)

// Mode selects how Close treats the underlying streams.
type Mode int

const (
	// ModeParent is used by a supervisor holding the child's Stdin/Stdout
	// pipes: Close closes the writer if it implements io.Closer; the reader
	// is not closed.
	ModeParent Mode = iota
	// ModeChild is used inside the child process itself, wrapping
	// os.Stdin/os.Stdout: Close never closes the process's real stdio.
	ModeChild
	// ModeStreams wraps an arbitrary reader/writer pair (tests, io.Pipe):
	// Close closes the writer if it implements io.Closer.
	ModeStreams
)

// Config configures a Transport.
type Config struct {
	Mode   Mode
	Reader io.Reader
	Writer io.Writer
	// SendBuffer bounds the outbound queue. Default 256.
	SendBuffer int
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// Transport is an NDJSON stream over an arbitrary reader/writer pair.
type Transport struct {
	transport.StateHolder

	cfg Config
	log *zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	stopCh chan struct{}
	closed bool
}

// New constructs a stdio Transport. Reader/Writer must already be set in
// cfg; Initialize only starts the pumps.
func New(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:    cfg,
		log:    logger.Transport("stdio"),
		stopCh: make(chan struct{}),
	}
}

func (t *Transport) Name() string { return "stdio" }

func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	t.send = make(chan []byte, t.cfg.SendBuffer)
	sendCh := t.send
	t.mu.Unlock()

	t.SetState(transport.StateConnected, nil)
	go t.readPump()
	go t.writePump(sendCh)
	return nil
}

func (t *Transport) readPump() {
	defer t.teardown(nil)
	scanner := bufio.NewScanner(t.cfg.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		var msg protocol.HubMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
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

func (t *Transport) writePump(sendCh <-chan []byte) {
	w := bufio.NewWriter(t.cfg.Writer)
	for {
		select {
		case raw := <-sendCh:
			if _, err := w.Write(raw); err != nil {
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
	t.mu.Unlock()
	close(t.stopCh)

	t.SetState(transport.StateDisconnected, cause)
}

// Send serializes msg as one NDJSON line and enqueues it.
func (t *Transport) Send(ctx context.Context, msg *protocol.HubMessage) error {
	if t.State() != transport.StateConnected {
		return protocol.NewHubError(protocol.ErrTransportError, "stdio transport is not connected")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return protocol.NewHubError(protocol.ErrInternalError, "failed to marshal message: %v", err)
	}

	t.mu.Lock()
	sendCh := t.send
	t.mu.Unlock()
	if sendCh == nil {
		return protocol.NewHubError(protocol.ErrNotConnected, "stdio transport not initialized")
	}

	select {
	case sendCh <- raw:
		return nil
	default:
		return protocol.NewHubError(protocol.ErrTransportError, "stdio send buffer is full")
	}
}

// Close quiesces the transport. In ModeChild the process's real stdin and
// stdout are left open; in ModeParent or ModeStreams, the writer is closed
// if it supports io.Closer.
func (t *Transport) Close(ctx context.Context) error {
	t.teardown(nil)
	if t.cfg.Mode == ModeChild {
		return nil
	}
	if closer, ok := t.cfg.Writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
