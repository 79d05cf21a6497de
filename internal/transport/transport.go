// Package transport defines the capability contract every concrete
// transport (WebSocket, Unix socket, stdio, in-process) satisfies. The hub
// and Router hold transports and connections behind these interfaces,
// never a concrete variant.
package transport

import (
	"context"

	"github.com/streamspace/messagehub/internal/protocol"
)

// ConnectionState is the lifecycle state of a Transport.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// MessageHandler is invoked for every validated inbound HubMessage.
type MessageHandler func(*protocol.HubMessage)

// ConnectionChangeHandler is invoked on every state transition, with an
// optional error describing why (nil on a clean transition).
type ConnectionChangeHandler func(state ConnectionState, err error)

// UnsubscribeFunc detaches a previously registered handler.
type UnsubscribeFunc func()

// Transport is the capability set every concrete transport implements.
// Transports own framing, parsing, and validation: handlers registered via
// OnMessage may assume every HubMessage they receive is well-formed.
type Transport interface {
	Name() string

	// Initialize connects (client) or begins accepting (server) and
	// transitions the transport to StateConnected on success.
	Initialize(ctx context.Context) error

	// Send serializes and delivers msg. Returns a protocol.HubError with
	// code TRANSPORT_ERROR if the transport is not connected.
	Send(ctx context.Context, msg *protocol.HubMessage) error

	// Close quiesces the transport and transitions it to StateDisconnected.
	Close(ctx context.Context) error

	IsReady() bool
	State() ConnectionState

	OnMessage(handler MessageHandler) UnsubscribeFunc
	OnConnectionChange(handler ConnectionChangeHandler) UnsubscribeFunc
}
