package protocol

import "fmt"

// ErrorCode is the stable taxonomy tag carried on ERROR messages. Codes
// never change across protocol versions; callers may switch on them.
type ErrorCode string

const (
	ErrInvalidMessage  ErrorCode = "INVALID_MESSAGE"
	ErrInvalidMethod   ErrorCode = "INVALID_METHOD"
	ErrProtocolVersion ErrorCode = "PROTOCOL_VERSION_MISMATCH"
	ErrMethodNotFound  ErrorCode = "METHOD_NOT_FOUND"
	ErrHandlerError    ErrorCode = "HANDLER_ERROR"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrInvalidParams   ErrorCode = "INVALID_PARAMS"
	ErrInvalidSession  ErrorCode = "INVALID_SESSION"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrTransportError  ErrorCode = "TRANSPORT_ERROR"
	ErrNotConnected    ErrorCode = "NOT_CONNECTED"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
)

// HubError is the error type returned across the MessageHub's public API
// (Request, Event, Subscribe, ...): a machine code plus a human message,
// mapping to a wire ERROR message instead of an HTTP status.
type HubError struct {
	Code    ErrorCode
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewHubError builds a HubError with a formatted message.
func NewHubError(code ErrorCode, format string, args ...interface{}) *HubError {
	return &HubError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromErrorMessage converts a received ERROR HubMessage into a HubError.
func FromErrorMessage(m *HubMessage) *HubError {
	code := ErrorCode(m.ErrorCode)
	if code == "" {
		code = ErrInternalError
	}
	return &HubError{Code: code, Message: m.Error}
}

// ToErrorMessage converts a HubError into an ERROR HubMessage answering requestID.
func (e *HubError) ToErrorMessage(sessionID, requestID string) *HubMessage {
	return NewErrorMessage(sessionID, requestID, e.Message, string(e.Code))
}
