package core

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"orion/server/internal/metrics"
	"orion/server/internal/protocol"
)

// LobbyRegistry is the catalogue of live lobbies, indexed by lobby ID and
// by the token of any member. It owns every lobby's mediator and every
// closure-cascade notification.
type LobbyRegistry struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby
	byToken map[string]*Lobby

	udpPort int
	cfg     MediationConfig
	metrics *metrics.Metrics
}

// NewLobbyRegistry returns an empty registry. udpPort is the datagram
// listen port advertised to members when mediation starts. m may be nil.
func NewLobbyRegistry(udpPort int, cfg MediationConfig, m *metrics.Metrics) *LobbyRegistry {
	return &LobbyRegistry{
		lobbies: make(map[string]*Lobby),
		byToken: make(map[string]*Lobby),
		udpPort: udpPort,
		cfg:     cfg.withDefaults(),
		metrics: m,
	}
}

// ListPublic returns a summary of every public lobby.
func (r *LobbyRegistry) ListPublic() []LobbySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LobbySummary, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		if !l.Public {
			continue
		}
		out = append(out, LobbySummary{
			Name:           l.Name,
			ID:             l.ID,
			CurrentMembers: len(l.members),
			MaxMembers:     l.Capacity,
		})
	}
	return out
}

// Create opens a new lobby hosted by host. Validation of names and capacity
// is the transport layer's job; this only checks state conflicts.
func (r *LobbyRegistry) Create(host *Session, hostName, lobbyName string, public bool, capacity int) (*Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, inLobby := r.byToken[host.Token]; inLobby {
		return nil, ErrAlreadyInLobby
	}

	id := randomLobbyID()
	for _, taken := r.lobbies[id]; taken; _, taken = r.lobbies[id] {
		id = randomLobbyID()
	}

	l := &Lobby{
		ID:       id,
		Name:     lobbyName,
		Capacity: capacity,
		Public:   public,
		members:  []*Member{{Session: host, Name: hostName}},
	}
	r.lobbies[id] = l
	r.byToken[host.Token] = l

	if r.metrics != nil {
		r.metrics.Lobbies.Inc()
	}
	slog.Info("lobby created", "lobby_id", id, "lobby_name", lobbyName, "public", public, "capacity", capacity)
	return l, nil
}

// Get returns the lobby with the given ID.
func (r *LobbyRegistry) Get(id string) (*Lobby, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[id]
	return l, ok
}

// Count returns the number of live lobbies.
func (r *LobbyRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobbies)
}

// Join adds a session to a lobby under a display name and notifies every
// other member. The membership change is committed before the
// lobby_peerConnect fan-out, so a peer querying lobby state right after the
// frame sees the new member.
func (r *LobbyRegistry) Join(lobbyID string, s *Session, peerName string) (JoinView, error) {
	r.mu.Lock()

	if _, inLobby := r.byToken[s.Token]; inLobby {
		r.mu.Unlock()
		return JoinView{}, ErrAlreadyInLobby
	}
	l, ok := r.lobbies[lobbyID]
	if !ok {
		r.mu.Unlock()
		return JoinView{}, ErrLobbyNotFound
	}
	if l.locked {
		r.mu.Unlock()
		return JoinView{}, ErrLobbyLocked
	}
	if len(l.members) >= l.Capacity {
		r.mu.Unlock()
		return JoinView{}, ErrLobbyFull
	}
	if l.hasName(peerName) {
		r.mu.Unlock()
		return JoinView{}, ErrNameTaken
	}

	frame := encodeFrame(protocol.MethodLobbyPeerConnect, protocol.LobbyPeerConnect{
		LobbyID:  l.ID,
		PeerName: peerName,
	})
	outs := make([]outbound, 0, len(l.members))
	for _, m := range l.members {
		outs = append(outs, outbound{sess: m.Session, frame: frame})
	}

	l.members = append(l.members, &Member{Session: s, Name: peerName})
	r.byToken[s.Token] = l
	view := JoinView{
		LobbyID:   l.ID,
		LobbyName: l.Name,
		Members:   l.memberNames(),
		HostName:  l.host().Name,
	}
	r.mu.Unlock()

	deliver(outs)
	slog.Info("lobby joined", "lobby_id", lobbyID, "peer_name", peerName, "members", len(view.Members))
	return view, nil
}

// SendChat relays one chat message to every member of the lobby, including
// the sender. The error return is for the caller's log only; chat failures
// are never surfaced to the peer.
func (r *LobbyRegistry) SendChat(token, lobbyID, message string) error {
	if err := protocol.ValidateChatMessage(message); err != nil {
		return err
	}

	r.mu.RLock()
	l, ok := r.byToken[token]
	if !ok || l.ID != lobbyID {
		r.mu.RUnlock()
		return ErrNotAMember
	}
	sender, ok := l.memberByToken(token)
	if !ok {
		r.mu.RUnlock()
		return ErrNotAMember
	}

	frame := encodeFrame(protocol.MethodMessagingReceived, protocol.MessagingReceived{
		LobbyID: l.ID,
		Message: protocol.ChatMessage{
			Timestamp:  time.Now().UnixMilli(),
			SenderName: sender.Name,
			Message:    message,
		},
	})
	outs := make([]outbound, 0, len(l.members))
	for _, m := range l.members {
		outs = append(outs, outbound{sess: m.Session, frame: frame})
	}
	r.mu.RUnlock()

	deliver(outs)
	return nil
}

// Close destroys a lobby: tears down any mediator, sends lobby_closed to
// every member exactly once, and clears all membership state.
func (r *LobbyRegistry) Close(id string) {
	r.mu.Lock()
	l, ok := r.lobbies[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	outs := r.closeLocked(l)
	r.mu.Unlock()

	deliver(outs)
}

// closeLocked runs the closure cascade and returns the notification set.
// Callers must hold r.mu and deliver the result after unlocking.
func (r *LobbyRegistry) closeLocked(l *Lobby) []outbound {
	if l.mediator != nil {
		// The lobby-closed cascade subsumes the abort notification.
		l.mediator.stopLocked()
		l.mediator = nil
	}

	frame := encodeFrame(protocol.MethodLobbyClosed, protocol.LobbyClosed{
		LobbyID:   l.ID,
		LobbyName: l.Name,
	})
	outs := make([]outbound, 0, len(l.members))
	for _, m := range l.members {
		outs = append(outs, outbound{sess: m.Session, frame: frame})
		delete(r.byToken, m.Session.Token)
	}
	l.members = nil
	delete(r.lobbies, l.ID)

	if r.metrics != nil {
		r.metrics.Lobbies.Dec()
	}
	slog.Info("lobby closed", "lobby_id", l.ID, "lobby_name", l.Name, "notified_members", len(outs))
	return outs
}

// OnSessionClose cascades a dropped reliable stream into lobby state. A
// host disconnect destroys the lobby; a member disconnect shrinks it and
// aborts any running mediation.
func (r *LobbyRegistry) OnSessionClose(s *Session) {
	r.mu.Lock()
	l, ok := r.byToken[s.Token]
	if !ok {
		r.mu.Unlock()
		return
	}

	if l.host().Session == s {
		// The disconnecting host's own entry is removed before the
		// cascade so it never receives lobby_closed.
		l.removeByToken(s.Token)
		delete(r.byToken, s.Token)
		outs := r.closeLocked(l)
		r.mu.Unlock()
		deliver(outs)
		return
	}

	departed, _ := l.removeByToken(s.Token)
	delete(r.byToken, s.Token)

	frame := encodeFrame(protocol.MethodLobbyPeerDisconnect, protocol.LobbyPeerDisconnect{
		LobbyID:  l.ID,
		PeerName: departed.Name,
	})
	outs := make([]outbound, 0, len(l.members))
	for _, m := range l.members {
		outs = append(outs, outbound{sess: m.Session, frame: frame})
	}
	if l.mediator != nil {
		outs = append(outs, r.abortMediationLocked(l, reasonMembersChanged)...)
	}
	remaining := len(l.members)
	r.mu.Unlock()

	deliver(outs)
	slog.Info("member left lobby", "lobby_id", l.ID, "peer_name", departed.Name, "remaining", remaining)
}

// Shutdown tears down every mediator and clears all state without
// dispatching closure notifications.
func (r *LobbyRegistry) Shutdown() {
	r.mu.Lock()
	for _, l := range r.lobbies {
		if l.mediator != nil {
			l.mediator.stopLocked()
			l.mediator = nil
		}
	}
	count := len(r.lobbies)
	r.lobbies = make(map[string]*Lobby)
	r.byToken = make(map[string]*Lobby)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Lobbies.Set(0)
	}
	slog.Info("lobby registry shut down", "dropped_lobbies", count)
}

// lobbyByToken resolves a member token to the lobby it belongs to.
func (r *LobbyRegistry) lobbyByToken(token string) (*Lobby, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byToken[token]
	return l, ok
}

// randomLobbyID draws 5 characters from [A-Z0-9].
func randomLobbyID() string {
	var b [protocol.LobbyIDLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	for i := range b {
		b[i] = protocol.LobbyIDAlphabet[int(b[i])%len(protocol.LobbyIDAlphabet)]
	}
	return string(b[:])
}
