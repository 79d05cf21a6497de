package protocol

import "testing"

func TestHubErrorRoundTrip(t *testing.T) {
	err := NewHubError(ErrMethodNotFound, "no handler for %q", "math.add")
	msg := err.ToErrorMessage("s1", "req-1")

	if msg.Type != TypeError {
		t.Fatalf("expected ERROR type, got %s", msg.Type)
	}
	if msg.ErrorCode != string(ErrMethodNotFound) {
		t.Fatalf("errorCode mismatch: %s", msg.ErrorCode)
	}

	back := FromErrorMessage(msg)
	if back.Code != ErrMethodNotFound {
		t.Fatalf("expected code to round-trip, got %s", back.Code)
	}
	if back.Message != err.Message {
		t.Fatalf("expected message to round-trip, got %q", back.Message)
	}
}

func TestFromErrorMessageDefaultsUnknownCode(t *testing.T) {
	msg := &HubMessage{Type: TypeError, Error: "boom"}
	got := FromErrorMessage(msg)
	if got.Code != ErrInternalError {
		t.Fatalf("expected fallback to INTERNAL_ERROR, got %s", got.Code)
	}
}
