package core

import (
	"log/slog"
	"time"

	"orion/server/internal/protocol"
)

// Abort reasons delivered to members in ptpMediation_aborted frames.
const (
	reasonCaptureTimeout = "timed out waiting for peers to send UDP packets"
	reasonConnectTimeout = "timed out waiting for peers to connect to one another"
	reasonMembersChanged = "Lobby members changed."
)

// MediationConfig carries the three mediation timers.
type MediationConfig struct {
	CaptureTimeout   time.Duration // deadline for every member's datagram
	ReminderInterval time.Duration // resend cadence for uncaptured members
	ConnectTimeout   time.Duration // deadline for every member's success ack
}

// DefaultMediationConfig returns the stock timer values.
func DefaultMediationConfig() MediationConfig {
	return MediationConfig{
		CaptureTimeout:   5 * time.Minute,
		ReminderInterval: 10 * time.Second,
		ConnectTimeout:   5 * time.Minute,
	}
}

func (c MediationConfig) withDefaults() MediationConfig {
	d := DefaultMediationConfig()
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = d.CaptureTimeout
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = d.ReminderInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}

type mediationPhase int

const (
	phaseCapturing mediationPhase = iota
	phaseConnecting
	phaseDone
)

// Mediator drives the two-phase mediation protocol for one lobby: first
// capture every member's public address from an inbound datagram, then wait
// for every member to confirm direct connectivity. All fields are guarded
// by the owning LobbyRegistry's lock; timer fires re-enter through registry
// methods that take it.
type Mediator struct {
	lobby    *Lobby
	phase    mediationPhase
	observed map[string]protocol.PeerEndpoint // member token -> source address
	acked    map[string]struct{}              // member token -> connectivity confirmed

	reminder        *time.Ticker
	reminderDone    chan struct{}
	reminderStopped bool
	captureTimer    *time.Timer
	connectTimer    *time.Timer
}

// StartMediation locks the lobby and begins capturing. Precondition order:
// the lobby must exist, the caller must be its host, no mediation may be
// running, and there must be at least two members.
func (r *LobbyRegistry) StartMediation(s *Session, lobbyID string) error {
	r.mu.Lock()

	l, ok := r.lobbies[lobbyID]
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	if l.host().Session != s {
		r.mu.Unlock()
		return ErrNotHost
	}
	if l.mediator != nil || l.locked {
		r.mu.Unlock()
		return ErrAlreadyMediating
	}
	if len(l.members) < 2 {
		r.mu.Unlock()
		return ErrNotEnoughMembers
	}

	m := &Mediator{
		lobby:        l,
		phase:        phaseCapturing,
		observed:     make(map[string]protocol.PeerEndpoint),
		acked:        make(map[string]struct{}),
		reminderDone: make(chan struct{}),
	}
	l.locked = true
	l.mediator = m

	outs := r.sendCaptureRequestLocked(l, false)

	m.reminder = time.NewTicker(r.cfg.ReminderInterval)
	go func() {
		for {
			select {
			case <-m.reminderDone:
				return
			case <-m.reminder.C:
				deliver(r.reminderTick(l, m))
			}
		}
	}()
	m.captureTimer = time.AfterFunc(r.cfg.CaptureTimeout, func() {
		deliver(r.mediationTimeout(l, m, phaseCapturing, reasonCaptureTimeout))
	})
	r.mu.Unlock()

	deliver(outs)
	if r.metrics != nil {
		r.metrics.MediationsStarted.Inc()
	}
	slog.Info("mediation started", "lobby_id", lobbyID, "members", len(outs))
	return nil
}

// sendCaptureRequestLocked builds ptpMediation_send frames. With
// uncapturedOnly set, members whose datagram has already been observed
// receive no reminder.
func (r *LobbyRegistry) sendCaptureRequestLocked(l *Lobby, uncapturedOnly bool) []outbound {
	frame := encodeFrame(protocol.MethodMediationSend, protocol.MediationSend{Port: r.udpPort})
	outs := make([]outbound, 0, len(l.members))
	for _, m := range l.members {
		if uncapturedOnly {
			if _, captured := l.mediator.observed[m.Session.Token]; captured {
				continue
			}
		}
		outs = append(outs, outbound{sess: m.Session, frame: frame})
	}
	return outs
}

// reminderTick re-requests datagrams from members not yet observed.
func (r *LobbyRegistry) reminderTick(l *Lobby, m *Mediator) []outbound {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.mediator != m || m.phase != phaseCapturing {
		return nil
	}
	outs := r.sendCaptureRequestLocked(l, true)
	slog.Debug("mediation reminder", "lobby_id", l.ID, "uncaptured", len(outs))
	return outs
}

// Observe records one member's datagram source address. Re-observation
// overwrites with the latest address and never changes phase on its own;
// the phase advances only when every current member has been observed.
func (r *LobbyRegistry) Observe(token, ip string, port int) {
	r.mu.Lock()

	l, ok := r.byToken[token]
	if !ok || l.mediator == nil {
		r.mu.Unlock()
		slog.Debug("datagram for idle lobby dropped")
		return
	}
	m := l.mediator
	if m.phase != phaseCapturing {
		r.mu.Unlock()
		return
	}
	if _, isMember := l.memberByToken(token); !isMember {
		r.mu.Unlock()
		return
	}

	m.observed[token] = protocol.PeerEndpoint{IP: ip, Port: port}
	slog.Debug("peer captured", "lobby_id", l.ID, "observed", len(m.observed), "members", len(l.members))

	if !m.allObservedLocked() {
		r.mu.Unlock()
		return
	}
	outs := r.enterConnectingLocked(l, m)
	r.mu.Unlock()

	deliver(outs)
}

func (m *Mediator) allObservedLocked() bool {
	for _, mem := range m.lobby.members {
		if _, ok := m.observed[mem.Session.Token]; !ok {
			return false
		}
	}
	return true
}

// enterConnectingLocked cancels the capture-phase timers and dispatches the
// connect list: the host learns every non-host endpoint, every non-host
// learns only the host's.
func (r *LobbyRegistry) enterConnectingLocked(l *Lobby, m *Mediator) []outbound {
	m.stopReminderLocked()
	m.captureTimer.Stop()
	m.phase = phaseConnecting

	host := l.host()
	hostEndpoint := m.observed[host.Session.Token]

	peersForHost := make([]protocol.PeerEndpoint, 0, len(l.members)-1)
	for _, mem := range l.members[1:] {
		peersForHost = append(peersForHost, m.observed[mem.Session.Token])
	}

	outs := make([]outbound, 0, len(l.members))
	outs = append(outs, outbound{
		sess:  host.Session,
		frame: encodeFrame(protocol.MethodPeersConnectionStart, protocol.PeersConnectionStart{Peers: peersForHost}),
	})
	nonHostFrame := encodeFrame(protocol.MethodPeersConnectionStart, protocol.PeersConnectionStart{
		Peers: []protocol.PeerEndpoint{hostEndpoint},
	})
	for _, mem := range l.members[1:] {
		outs = append(outs, outbound{sess: mem.Session, frame: nonHostFrame})
	}

	m.connectTimer = time.AfterFunc(r.cfg.ConnectTimeout, func() {
		deliver(r.mediationTimeout(l, m, phaseConnecting, reasonConnectTimeout))
	})

	slog.Info("mediation capturing complete", "lobby_id", l.ID, "members", len(l.members))
	return outs
}

// AckSuccess records one member's connectivity confirmation. Duplicates are
// no-ops. Once every member has confirmed, all members receive
// ptpMediation_success and the lobby is closed.
func (r *LobbyRegistry) AckSuccess(token string) {
	r.mu.Lock()

	l, ok := r.byToken[token]
	if !ok || l.mediator == nil {
		r.mu.Unlock()
		return
	}
	m := l.mediator
	if m.phase != phaseConnecting {
		r.mu.Unlock()
		return
	}
	if _, isMember := l.memberByToken(token); !isMember {
		r.mu.Unlock()
		return
	}

	m.acked[token] = struct{}{}
	if len(m.acked) < len(l.members) {
		r.mu.Unlock()
		return
	}

	m.stopLocked()
	l.mediator = nil
	l.locked = false

	frame := encodeFrame(protocol.MethodMediationSuccess, struct{}{})
	outs := make([]outbound, 0, 2*len(l.members))
	for _, mem := range l.members {
		outs = append(outs, outbound{sess: mem.Session, frame: frame})
	}
	outs = append(outs, r.closeLocked(l)...)
	r.mu.Unlock()

	deliver(outs)
	if r.metrics != nil {
		r.metrics.MediationsSucceeded.Inc()
	}
	slog.Info("mediation succeeded", "lobby_id", l.ID)
}

// mediationTimeout aborts if the mediator is still live in the phase the
// timer was armed for. A stale fire racing the phase transition is ignored.
func (r *LobbyRegistry) mediationTimeout(l *Lobby, m *Mediator, armedPhase mediationPhase, reason string) []outbound {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.mediator != m || m.phase != armedPhase {
		return nil
	}
	return r.abortMediationLocked(l, reason)
}

// abortMediationLocked tears down the lobby's mediator, notifies current
// members, and unlocks the lobby so the host may start again.
func (r *LobbyRegistry) abortMediationLocked(l *Lobby, reason string) []outbound {
	m := l.mediator
	if m == nil {
		return nil
	}
	m.stopLocked()
	l.mediator = nil
	l.locked = false

	frame := encodeFrame(protocol.MethodMediationAborted, protocol.MediationAborted{AbortReason: reason})
	outs := make([]outbound, 0, len(l.members))
	for _, mem := range l.members {
		outs = append(outs, outbound{sess: mem.Session, frame: frame})
	}

	if r.metrics != nil {
		r.metrics.MediationsAborted.Inc()
	}
	slog.Info("mediation aborted", "lobby_id", l.ID, "reason", reason)
	return outs
}

// stopReminderLocked cancels the reminder ticker exactly once.
func (m *Mediator) stopReminderLocked() {
	if m.reminderStopped {
		return
	}
	m.reminderStopped = true
	m.reminder.Stop()
	close(m.reminderDone)
}

// stopLocked cancels every timer regardless of exit path.
func (m *Mediator) stopLocked() {
	m.phase = phaseDone
	m.stopReminderLocked()
	if m.captureTimer != nil {
		m.captureTimer.Stop()
	}
	if m.connectTimer != nil {
		m.connectTimer.Stop()
	}
}
