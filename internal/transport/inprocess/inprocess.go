// Package inprocess implements the in-process transport pair and bus:
// peered transports that hand HubMessages directly to each other without
// an intermediate buffer, for test fidelity and for same-process peers
// (e.g. an embedded worker).
package inprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streamspace/messagehub/internal/idgen"
	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport"
)

// PairOptions configures NewPair.
type PairOptions struct {
	// CloneMessages deep-copies payloads on delivery so mutations made by
	// one side's handlers can never be observed by the other. Default is
	// false (zero-copy, for throughput).
	CloneMessages bool

	// SimulatedLatency delays delivery by this duration, for test fidelity
	// against real network transports.
	SimulatedLatency time.Duration

	// OnClientDisconnect is invoked on the server side when the paired
	// client transport closes.
	OnClientDisconnect func(clientID string)
}

// Transport is one half of an in-process pair.
type Transport struct {
	transport.StateHolder

	name     string
	clientID string
	peer     *Transport
	opts     PairOptions
	isServer bool

	mu     sync.Mutex
	closed bool
}

// NewPair returns two peered transports sharing no intermediate buffer.
// The first is conventionally the server side, the second the client side;
// both satisfy transport.Transport identically.
func NewPair(opts PairOptions) (server *Transport, client *Transport) {
	id := idgen.New()
	server = &Transport{name: "inprocess-server", clientID: id, opts: opts, isServer: true}
	client = &Transport{name: "inprocess-client", clientID: id, opts: opts}
	server.peer = client
	client.peer = server
	return server, client
}

func (t *Transport) Name() string { return t.name }

func (t *Transport) Initialize(ctx context.Context) error {
	t.SetState(transport.StateConnected, nil)
	return nil
}

func (t *Transport) Send(ctx context.Context, msg *protocol.HubMessage) error {
	if t.State() != transport.StateConnected {
		return protocol.NewHubError(protocol.ErrTransportError, "inprocess transport %s is not connected", t.name)
	}

	delivered := msg
	if t.opts.CloneMessages {
		cloned, err := cloneMessage(msg)
		if err != nil {
			return protocol.NewHubError(protocol.ErrInternalError, "failed to clone message: %v", err)
		}
		delivered = cloned
	}
	if t.peer != nil && t.peer.isServer {
		// The server side of a pair always knows which client a message
		// came from: it's the UUID the pair was created with.
		delivered.ClientID = t.clientID
	}

	deliver := func() {
		peer := t.peer
		if peer == nil || peer.State() != transport.StateConnected {
			return
		}
		peer.EmitMessage(delivered)
	}

	if t.opts.SimulatedLatency > 0 {
		go func() {
			select {
			case <-time.After(t.opts.SimulatedLatency):
				deliver()
			case <-ctx.Done():
			}
		}()
		return nil
	}

	deliver()
	return nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.SetState(transport.StateDisconnected, nil)

	if !t.isServer && t.peer != nil && t.peer.opts.OnClientDisconnect != nil {
		t.peer.opts.OnClientDisconnect(t.clientID)
	}
	return nil
}

// ClientID returns the UUID shared by both halves of the pair.
func (t *Transport) ClientID() string { return t.clientID }

func cloneMessage(m *protocol.HubMessage) (*protocol.HubMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out protocol.HubMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Bus is a name-keyed registry of in-process transports; Send fans a
// message out to every other attached transport, excluding the sender.
// Duplicate names are rejected. The registry is scoped to its owner, not
// ambient: there is no process-wide bus.
type Bus struct {
	mu         sync.RWMutex
	transports map[string]*BusTransport
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{transports: make(map[string]*BusTransport)}
}

// Attach creates and registers a new named transport on the bus. It returns
// an error if name is already attached.
func (b *Bus) Attach(name string) (*BusTransport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.transports[name]; exists {
		return nil, fmt.Errorf("inprocess bus: transport %q already attached", name)
	}
	t := &BusTransport{name: name, bus: b}
	b.transports[name] = t
	return t, nil
}

func (b *Bus) detach(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.transports, name)
}

func (b *Bus) broadcast(from string, msg *protocol.HubMessage) {
	b.mu.RLock()
	targets := make([]*BusTransport, 0, len(b.transports))
	for name, t := range b.transports {
		if name == from {
			continue
		}
		targets = append(targets, t)
	}
	b.mu.RUnlock()

	for _, t := range targets {
		if t.State() == transport.StateConnected {
			t.EmitMessage(msg)
		}
	}
}

// BusTransport is one named attachment to a Bus.
type BusTransport struct {
	transport.StateHolder
	name string
	bus  *Bus
}

func (t *BusTransport) Name() string { return t.name }

func (t *BusTransport) Initialize(ctx context.Context) error {
	t.SetState(transport.StateConnected, nil)
	return nil
}

func (t *BusTransport) Send(ctx context.Context, msg *protocol.HubMessage) error {
	if t.State() != transport.StateConnected {
		return protocol.NewHubError(protocol.ErrTransportError, "bus transport %s is not connected", t.name)
	}
	t.bus.broadcast(t.name, msg)
	return nil
}

func (t *BusTransport) Close(ctx context.Context) error {
	if t.State() == transport.StateDisconnected {
		return nil
	}
	t.bus.detach(t.name)
	t.SetState(transport.StateDisconnected, nil)
	return nil
}
