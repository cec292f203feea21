// Package core holds the in-memory state of the rendezvous server: live
// sessions, lobbies, and per-lobby mediations. All mutation of a registry
// happens under that registry's lock; fan-out writes happen outside it.
package core

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"orion/server/internal/metrics"
	"orion/server/internal/protocol"
)

// DefaultSendBuffer is the per-session outbound frame buffer size.
const DefaultSendBuffer = 64

// Session is one live reliable-channel connection. Send carries encoded
// frames; the transport layer drains it onto the socket. The channel is
// closed exactly once, by the session registry.
type Session struct {
	ID    string
	Token string
	Send  chan []byte
}

// SessionRegistry tracks live sessions, indexed by internal ID and by the
// secret token. Token to session is a bijection over live sessions.
type SessionRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*Session
	byToken map[string]*Session
	nextID  atomic.Uint64

	metrics *metrics.Metrics
}

// NewSessionRegistry returns an empty registry. m may be nil.
func NewSessionRegistry(m *metrics.Metrics) *SessionRegistry {
	return &SessionRegistry{
		byID:    make(map[string]*Session),
		byToken: make(map[string]*Session),
		metrics: m,
	}
}

// Open registers a new session, mints its token, and queues the
// client_registered frame before returning, so it is the first frame the
// peer ever receives.
func (r *SessionRegistry) Open(sendBuf int) (*Session, error) {
	if sendBuf <= 0 {
		sendBuf = DefaultSendBuffer
	}

	r.mu.Lock()
	token := uuid.NewString()
	for _, taken := r.byToken[token]; taken; _, taken = r.byToken[token] {
		token = uuid.NewString()
	}
	s := &Session{
		ID:    fmt.Sprintf("s%d", r.nextID.Add(1)),
		Token: token,
		Send:  make(chan []byte, sendBuf),
	}
	r.byID[s.ID] = s
	r.byToken[s.Token] = s
	count := len(r.byID)
	r.mu.Unlock()

	frame, err := protocol.Encode(protocol.MethodClientRegistered, protocol.ClientRegistered{Token: s.Token})
	if err != nil {
		r.Close(s.ID)
		return nil, fmt.Errorf("encode registration frame: %w", err)
	}
	s.Send <- frame

	if r.metrics != nil {
		r.metrics.Sessions.Inc()
	}
	slog.Info("session opened", "session_id", s.ID, "total_sessions", count)
	return s, nil
}

// LookupToken resolves a secret token to its session.
func (r *SessionRegistry) LookupToken(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byToken[token]
	return s, ok
}

// LookupID resolves an internal session ID.
func (r *SessionRegistry) LookupID(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close drops a session from both indices and closes its send channel.
// The token is invalidated and never reissued. Lobby-side cleanup is the
// caller's responsibility.
func (r *SessionRegistry) Close(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byToken, s.Token)
	}
	remaining := len(r.byID)
	r.mu.Unlock()

	if !ok {
		return
	}
	close(s.Send)

	if r.metrics != nil {
		r.metrics.Sessions.Dec()
	}
	slog.Info("session closed", "session_id", id, "remaining_sessions", remaining)
}

// Shutdown closes every live session and clears all state. No frames are
// dispatched; the peers are being disconnected anyway.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[string]*Session)
	r.byToken = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		close(s.Send)
	}
	if r.metrics != nil {
		r.metrics.Sessions.Set(0)
	}
	slog.Info("session registry shut down", "closed_sessions", len(sessions))
}
