package protocol

import (
	"regexp"
	"strings"

	"github.com/streamspace/messagehub/internal/logger"
)

// methodPattern enforces: alphanumeric + '.', '_', '-'; at least one '.';
// must not start or end with '.'; must not contain ':'.
var methodPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)+$`)

// ValidateMethod reports whether method satisfies the naming rule:
// dot-separated alphanumeric segments, no leading or trailing dot, no ':'.
// PING/PONG messages waive this check at the call site (they may carry any
// method string); ValidateMethod itself only implements the format rule.
func ValidateMethod(method string) bool {
	if method == "" {
		return false
	}
	if strings.Contains(method, ":") {
		return false
	}
	return methodPattern.MatchString(method)
}

// validSessionID reports whether sessionID is non-empty and free of ':'.
func validSessionID(sessionID string) bool {
	return sessionID != "" && !strings.Contains(sessionID, ":")
}

var knownTypes = map[MessageType]bool{
	TypeCall: true, TypeResult: true, TypeError: true, TypeEvent: true,
	TypeSubscribe: true, TypeUnsubscribe: true, TypeSubscribed: true,
	TypeUnsubscribed: true, TypePing: true, TypePong: true,
}

// requiresRequestID is the set of types that must carry a RequestID.
var requiresRequestID = map[MessageType]bool{
	TypeResult: true, TypeError: true, TypeSubscribed: true,
	TypeUnsubscribed: true, TypePong: true,
}

// requiresMethod is the set of types for which method is the whole point of
// the message and must therefore be present and well-formed.
var requiresMethod = map[MessageType]bool{
	TypeCall: true, TypeEvent: true, TypeSubscribe: true, TypeUnsubscribe: true,
}

// IsValidMessage enforces the structural, enum, method-format, response-shape,
// and version rules in one place. Returns false for any violation; callers
// at a transport boundary should drop and log, never forward, an invalid
// message downstream.
func IsValidMessage(m *HubMessage) bool {
	if m == nil {
		return false
	}
	if m.ID == "" {
		return false
	}
	if !knownTypes[m.Type] {
		return false
	}
	if !validSessionID(m.SessionID) {
		return false
	}

	if m.Type != TypePing && m.Type != TypePong {
		if requiresMethod[m.Type] && !ValidateMethod(m.Method) {
			return false
		}
		if m.Method != "" && !ValidateMethod(m.Method) {
			return false
		}
	}

	if requiresRequestID[m.Type] && m.RequestID == "" {
		return false
	}
	if m.Type == TypeError && m.Error == "" {
		return false
	}

	if m.Version != "" && m.Version != Version {
		// Forward/backward compatible: logged as a warning, not rejected.
		logger.Log.Warn().Str("messageId", m.ID).Str("version", m.Version).
			Str("expected", Version).Str("errorCode", string(ErrProtocolVersion)).
			Msg("protocol version mismatch")
	}

	return true
}
