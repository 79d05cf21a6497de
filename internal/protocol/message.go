// Package protocol defines the MessageHub wire format: the HubMessage
// envelope, its typed constructors, and the validation rules every
// transport boundary applies before a message reaches a MessageHub.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the tagged variant discriminator for HubMessage.
type MessageType string

const (
	TypeCall          MessageType = "CALL"
	TypeResult        MessageType = "RESULT"
	TypeError         MessageType = "ERROR"
	TypeEvent         MessageType = "EVENT"
	TypeSubscribe     MessageType = "SUBSCRIBE"
	TypeUnsubscribe   MessageType = "UNSUBSCRIBE"
	TypeSubscribed    MessageType = "SUBSCRIBED"
	TypeUnsubscribed  MessageType = "UNSUBSCRIBED"
	TypePing          MessageType = "PING"
	TypePong          MessageType = "PONG"
)

// Version is the protocol version stamped on every outbound message.
// Mismatched-but-well-typed versions are accepted with a warning, never
// rejected (see IsValidMessage).
const Version = "1.0.0"

// GlobalSession is the reserved sessionId denoting system-wide scope.
const GlobalSession = "global"

// HeartbeatMethod is the conventional method string for PING/PONG messages.
const HeartbeatMethod = "heartbeat"

// HubMessage is the single wire entity exchanged by every transport.
//
// ClientID is internal-only: the server-side transport adapter stamps it
// onto a message after deserialization so downstream dispatch code can
// identify the sender. It carries `json:"-"` because it must never be
// transmitted on the wire.
type HubMessage struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Method    string      `json:"method,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"errorCode,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version,omitempty"`
	Sequence  int64       `json:"sequence,omitempty"`
	ClientID  string      `json:"-"`
}

// NewOptions configures the optional fields shared by every constructor.
type NewOptions struct {
	ID        string
	RequestID string
	Data      interface{}
}

func newBase(t MessageType, sessionID, method string, opts NewOptions) *HubMessage {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &HubMessage{
		ID:        id,
		Type:      t,
		SessionID: sessionID,
		Method:    method,
		Data:      opts.Data,
		RequestID: opts.RequestID,
		Timestamp: time.Now(),
		Version:   Version,
	}
}

// NewCall constructs a CALL message.
func NewCall(sessionID, method string, opts NewOptions) *HubMessage {
	return newBase(TypeCall, sessionID, method, opts)
}

// NewResult constructs a RESULT message answering requestID.
func NewResult(sessionID, requestID string, data interface{}) *HubMessage {
	m := newBase(TypeResult, sessionID, "", NewOptions{RequestID: requestID, Data: data})
	return m
}

// NewErrorMessage constructs an ERROR message answering requestID.
func NewErrorMessage(sessionID, requestID, errMsg, errorCode string) *HubMessage {
	m := newBase(TypeError, sessionID, "", NewOptions{RequestID: requestID})
	m.Error = errMsg
	m.ErrorCode = errorCode
	return m
}

// NewEvent constructs a one-way EVENT message.
func NewEvent(sessionID, method string, opts NewOptions) *HubMessage {
	return newBase(TypeEvent, sessionID, method, opts)
}

// NewSubscribe constructs a SUBSCRIBE request.
func NewSubscribe(sessionID, method string, opts NewOptions) *HubMessage {
	return newBase(TypeSubscribe, sessionID, method, opts)
}

// NewUnsubscribe constructs an UNSUBSCRIBE request.
func NewUnsubscribe(sessionID, method string, opts NewOptions) *HubMessage {
	return newBase(TypeUnsubscribe, sessionID, method, opts)
}

// NewSubscribed constructs the SUBSCRIBED acknowledgement for requestID.
func NewSubscribed(sessionID, method, requestID string) *HubMessage {
	return newBase(TypeSubscribed, sessionID, method, NewOptions{RequestID: requestID})
}

// NewUnsubscribed constructs the UNSUBSCRIBED acknowledgement for requestID.
func NewUnsubscribed(sessionID, method, requestID string) *HubMessage {
	return newBase(TypeUnsubscribed, sessionID, method, NewOptions{RequestID: requestID})
}

// NewPing constructs a PING message. method conventionally is HeartbeatMethod.
func NewPing(sessionID, method string) *HubMessage {
	if method == "" {
		method = HeartbeatMethod
	}
	return newBase(TypePing, sessionID, method, NewOptions{})
}

// NewPong constructs the PONG reply to a PING whose id is requestID.
func NewPong(sessionID, method, requestID string) *HubMessage {
	if method == "" {
		method = HeartbeatMethod
	}
	return newBase(TypePong, sessionID, method, NewOptions{RequestID: requestID})
}
