package protocol

import "testing"

func TestValidateMethod(t *testing.T) {
	cases := []struct {
		method string
		want   bool
	}{
		{"a.b", true},
		{"math.add", true},
		{"room.join", true},
		{"a_b.c-d", true},
		{"a:b", false},
		{"", false},
		{".a", false},
		{"a.", false},
		{"noDot", false},
	}
	for _, c := range cases {
		if got := ValidateMethod(c.method); got != c.want {
			t.Errorf("ValidateMethod(%q) = %v, want %v", c.method, got, c.want)
		}
	}
}

func TestIsValidMessage(t *testing.T) {
	call := NewCall("s1", "math.add", NewOptions{Data: map[string]int{"a": 1}})
	if !IsValidMessage(call) {
		t.Fatal("expected valid CALL to pass")
	}

	call.Method = ""
	if IsValidMessage(call) {
		t.Fatal("CALL with empty method must be invalid")
	}

	result := NewResult("s1", "req-1", 42)
	if !IsValidMessage(result) {
		t.Fatal("expected valid RESULT to pass")
	}
	result.RequestID = ""
	if IsValidMessage(result) {
		t.Fatal("RESULT without requestId must be invalid")
	}

	ping := NewPing("global", "")
	if !IsValidMessage(ping) {
		t.Fatal("PING must not require a method-format check beyond its default")
	}

	if IsValidMessage(nil) {
		t.Fatal("nil message must be invalid")
	}

	bogus := &HubMessage{ID: "x", Type: "BOGUS", SessionID: "s"}
	if IsValidMessage(bogus) {
		t.Fatal("unknown type must be invalid")
	}

	badSession := NewCall("bad:session", "a.b", NewOptions{})
	if IsValidMessage(badSession) {
		t.Fatal("sessionId containing ':' must be invalid")
	}
}

func TestIsValidMessageAcceptsVersionDrift(t *testing.T) {
	msg := NewCall("s1", "a.b", NewOptions{})
	msg.Version = "0.9.0"
	if !IsValidMessage(msg) {
		t.Fatal("mismatched but well-typed version must still be accepted")
	}
}
