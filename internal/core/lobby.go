package core

import "errors"

// State-conflict errors. The messages are the user-facing strings returned
// in HTTP 409 bodies, so they are part of the wire contract.
var (
	ErrAlreadyInLobby   = errors.New("already in a lobby")
	ErrLobbyNotFound    = errors.New("lobby doesn't exist")
	ErrLobbyFull        = errors.New("lobby is full")
	ErrLobbyLocked      = errors.New("lobby is locked")
	ErrNameTaken        = errors.New("name is taken")
	ErrNotHost          = errors.New("not the host")
	ErrAlreadyMediating = errors.New("already mediating")
	ErrNotEnoughMembers = errors.New("must be at least 2")
	ErrNotAMember       = errors.New("not a member of this lobby")
)

// Member is a session joined to a lobby under a display name. The display
// name is the member's only externally visible identifier.
type Member struct {
	Session *Session
	Name    string
}

// Lobby is a coordination context owned by one host plus additional member
// sessions. All fields are guarded by the owning LobbyRegistry's lock.
// Members are kept in join order; members[0] is always the host.
type Lobby struct {
	ID       string
	Name     string
	Capacity int
	Public   bool

	locked   bool
	members  []*Member
	mediator *Mediator
}

func (l *Lobby) host() *Member {
	return l.members[0]
}

func (l *Lobby) memberByToken(token string) (*Member, bool) {
	for _, m := range l.members {
		if m.Session.Token == token {
			return m, true
		}
	}
	return nil, false
}

func (l *Lobby) hasName(name string) bool {
	for _, m := range l.members {
		if m.Name == name {
			return true
		}
	}
	return false
}

// removeByToken drops a member, preserving join order, and reports whether
// the member existed.
func (l *Lobby) removeByToken(token string) (*Member, bool) {
	for i, m := range l.members {
		if m.Session.Token == token {
			l.members = append(l.members[:i], l.members[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

func (l *Lobby) memberNames() []string {
	names := make([]string, len(l.members))
	for i, m := range l.members {
		names[i] = m.Name
	}
	return names
}

// LobbySummary is the public-listing view of a lobby.
type LobbySummary struct {
	Name           string
	ID             string
	CurrentMembers int
	MaxMembers     int
}

// JoinView is what a successful joiner learns about its new lobby.
type JoinView struct {
	LobbyID   string
	LobbyName string
	Members   []string
	HostName  string
}
