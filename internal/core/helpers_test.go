package core

import (
	"encoding/json"
	"testing"
	"time"

	"orion/server/internal/protocol"
)

const recvTimeout = 2 * time.Second

// recvFrame blocks for the next frame queued on a session.
func recvFrame(t *testing.T, s *Session) (string, []byte) {
	t.Helper()
	select {
	case frame, ok := <-s.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		method, payload, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode queued frame: %v", err)
		}
		return method, payload
	case <-time.After(recvTimeout):
		t.Fatal("timed out waiting for frame")
		return "", nil
	}
}

// expectFrame asserts the next queued frame has the given method and
// unmarshals its payload into out (which may be nil).
func expectFrame(t *testing.T, s *Session, method string, out any) {
	t.Helper()
	got, payload := recvFrame(t, s)
	if got != method {
		t.Fatalf("next frame = %s, want %s", got, method)
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			t.Fatalf("unmarshal %s payload: %v", method, err)
		}
	}
}

// expectNoFrame asserts nothing is queued on a session within wait.
func expectNoFrame(t *testing.T, s *Session, wait time.Duration) {
	t.Helper()
	select {
	case frame, ok := <-s.Send:
		if !ok {
			return
		}
		method, _, _ := protocol.Decode(frame)
		t.Fatalf("unexpected frame %s", method)
	case <-time.After(wait):
	}
}

// drainFrames discards everything currently buffered on a session.
func drainFrames(s *Session) {
	for {
		select {
		case _, ok := <-s.Send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func unmarshalPayload(payload []byte, out any) error {
	return json.Unmarshal(payload, out)
}

// openSession opens a registered session and consumes its
// client_registered frame.
func openSession(t *testing.T, r *SessionRegistry) *Session {
	t.Helper()
	s, err := r.Open(32)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	var reg protocol.ClientRegistered
	expectFrame(t, s, protocol.MethodClientRegistered, &reg)
	if reg.Token != s.Token {
		t.Fatalf("registered token %q does not match session token %q", reg.Token, s.Token)
	}
	return s
}

// testLobbyRegistry builds a registry with short mediation timers.
func testLobbyRegistry(udpPort int) *LobbyRegistry {
	return NewLobbyRegistry(udpPort, MediationConfig{
		CaptureTimeout:   time.Second,
		ReminderInterval: 50 * time.Millisecond,
		ConnectTimeout:   time.Second,
	}, nil)
}
