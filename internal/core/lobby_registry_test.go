package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"orion/server/internal/protocol"
)

func TestCreateListsPublicLobbyOnly(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !protocol.ValidLobbyID(l.ID) {
		t.Fatalf("lobby ID %q has the wrong shape", l.ID)
	}

	hidden := openSession(t, sessions)
	if _, err := lobbies.Create(hidden, "jt2", "hidden", false, 2); err != nil {
		t.Fatalf("create private: %v", err)
	}

	list := lobbies.ListPublic()
	if len(list) != 1 {
		t.Fatalf("public list = %#v, want 1 entry", list)
	}
	got := list[0]
	if got.Name != "My lobby" || got.ID != l.ID || got.CurrentMembers != 1 || got.MaxMembers != 3 {
		t.Fatalf("summary = %#v", got)
	}
}

func TestCreateWhileInLobbyRefused(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	if _, err := lobbies.Create(host, "jt", "My lobby", true, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := lobbies.Create(host, "jt", "Another", true, 3); !errors.Is(err, ErrAlreadyInLobby) {
		t.Fatalf("second create err = %v", err)
	}
}

func TestJoinNotifiesExistingMembersAfterCommit(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	joiner := openSession(t, sessions)
	view, err := lobbies.Join(l.ID, joiner, "peer0")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if view.LobbyID != l.ID || view.LobbyName != "My lobby" || view.HostName != "jt" {
		t.Fatalf("join view = %#v", view)
	}
	if len(view.Members) != 2 || view.Members[0] != "jt" || view.Members[1] != "peer0" {
		t.Fatalf("members not in join order: %#v", view.Members)
	}

	var notice protocol.LobbyPeerConnect
	expectFrame(t, host, protocol.MethodLobbyPeerConnect, &notice)
	if notice.LobbyID != l.ID || notice.PeerName != "peer0" {
		t.Fatalf("peerConnect = %#v", notice)
	}
	// The joiner itself gets no peerConnect.
	expectNoFrame(t, joiner, 50*time.Millisecond)

	// The membership change was committed before the notification.
	if list := lobbies.ListPublic(); list[0].CurrentMembers != 2 {
		t.Fatalf("currentMembers = %d after join", list[0].CurrentMembers)
	}
}

func TestJoinErrors(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := lobbies.Join("ZZZZZ", openSession(t, sessions), "peer0"); !errors.Is(err, ErrLobbyNotFound) {
		t.Fatalf("unknown lobby err = %v", err)
	}
	if _, err := lobbies.Join(l.ID, host, "again"); !errors.Is(err, ErrAlreadyInLobby) {
		t.Fatalf("host rejoin err = %v", err)
	}
	if _, err := lobbies.Join(l.ID, openSession(t, sessions), "jt"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("duplicate name err = %v", err)
	}

	if _, err := lobbies.Join(l.ID, openSession(t, sessions), "peer0"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// members == capacity now.
	if _, err := lobbies.Join(l.ID, openSession(t, sessions), "peer1"); !errors.Is(err, ErrLobbyFull) {
		t.Fatalf("full lobby err = %v", err)
	}
}

func TestHostDisconnectDestroysLobby(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joiner := openSession(t, sessions)
	if _, err := lobbies.Join(l.ID, joiner, "peer0"); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainFrames(host)

	lobbies.OnSessionClose(host)
	sessions.Close(host.ID)

	var closed protocol.LobbyClosed
	expectFrame(t, joiner, protocol.MethodLobbyClosed, &closed)
	if closed.LobbyID != l.ID || closed.LobbyName != "My lobby" {
		t.Fatalf("lobby_closed = %#v", closed)
	}
	// The sole remaining member sees no peerDisconnect, only lobby_closed.
	expectNoFrame(t, joiner, 50*time.Millisecond)

	if len(lobbies.ListPublic()) != 0 {
		t.Fatal("lobby still listed after host disconnect")
	}
	if _, ok := lobbies.Get(l.ID); ok {
		t.Fatal("lobby still resolvable after host disconnect")
	}

	// The ex-member can immediately create a lobby of its own.
	if _, err := lobbies.Create(joiner, "peer0", "Next", true, 2); err != nil {
		t.Fatalf("create after cascade: %v", err)
	}
}

func TestMemberDisconnectKeepsLobby(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joiner := openSession(t, sessions)
	if _, err := lobbies.Join(l.ID, joiner, "peer0"); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainFrames(host)

	lobbies.OnSessionClose(joiner)
	sessions.Close(joiner.ID)

	var left protocol.LobbyPeerDisconnect
	expectFrame(t, host, protocol.MethodLobbyPeerDisconnect, &left)
	if left.LobbyID != l.ID || left.PeerName != "peer0" {
		t.Fatalf("peerDisconnect = %#v", left)
	}

	list := lobbies.ListPublic()
	if len(list) != 1 || list[0].CurrentMembers != 1 {
		t.Fatalf("lobby state after member disconnect: %#v", list)
	}
}

func TestSessionCloseOutsideLobbyIsNoOp(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	loner := openSession(t, sessions)
	lobbies.OnSessionClose(loner)
}

func TestChatFanOutIncludesSender(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joiner := openSession(t, sessions)
	if _, err := lobbies.Join(l.ID, joiner, "peer0"); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainFrames(host)

	before := time.Now().UnixMilli()
	if err := lobbies.SendChat(joiner.Token, l.ID, "hello there"); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	for _, s := range []*Session{host, joiner} {
		var msg protocol.MessagingReceived
		expectFrame(t, s, protocol.MethodMessagingReceived, &msg)
		if msg.LobbyID != l.ID || msg.Message.SenderName != "peer0" || msg.Message.Message != "hello there" {
			t.Fatalf("chat frame = %#v", msg)
		}
		if msg.Message.Timestamp < before {
			t.Fatalf("timestamp %d predates send", msg.Message.Timestamp)
		}
	}
}

func TestChatValidation(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	drainFrames(host)

	if err := lobbies.SendChat(host.Token, l.ID, ""); err == nil {
		t.Fatal("empty message relayed")
	}
	if err := lobbies.SendChat(host.Token, l.ID, strings.Repeat("x", 251)); err == nil {
		t.Fatal("oversized message relayed")
	}
	if err := lobbies.SendChat(host.Token, "ZZZZZ", "hi"); err == nil {
		t.Fatal("chat to a different lobby relayed")
	}
	outsider := openSession(t, sessions)
	if err := lobbies.SendChat(outsider.Token, l.ID, "hi"); err == nil {
		t.Fatal("chat from non-member relayed")
	}
	expectNoFrame(t, host, 50*time.Millisecond)

	if err := lobbies.SendChat(host.Token, l.ID, strings.Repeat("x", 250)); err != nil {
		t.Fatalf("250-char message refused: %v", err)
	}
}

func TestChatOrderPreservedPerSender(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joiner := openSession(t, sessions)
	if _, err := lobbies.Join(l.ID, joiner, "peer0"); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainFrames(host)

	for _, body := range []string{"one", "two", "three"} {
		if err := lobbies.SendChat(host.Token, l.ID, body); err != nil {
			t.Fatalf("send %q: %v", body, err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		var msg protocol.MessagingReceived
		expectFrame(t, joiner, protocol.MethodMessagingReceived, &msg)
		if msg.Message.Message != want {
			t.Fatalf("got %q, want %q", msg.Message.Message, want)
		}
	}
}

func TestRegistryShutdownSendsNothing(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	lobbies := testLobbyRegistry(5990)

	host := openSession(t, sessions)
	l, err := lobbies.Create(host, "jt", "My lobby", true, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joiner := openSession(t, sessions)
	if _, err := lobbies.Join(l.ID, joiner, "peer0"); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainFrames(host)

	lobbies.Shutdown()

	expectNoFrame(t, host, 50*time.Millisecond)
	expectNoFrame(t, joiner, 50*time.Millisecond)
	if lobbies.Count() != 0 {
		t.Fatalf("count = %d after shutdown", lobbies.Count())
	}
}
