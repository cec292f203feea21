// Package udp is the receive-only datagram channel. Its single job is to
// turn an inbound ptpMediation_connect datagram into a capture observation:
// the token names the session, the OS-reported source address is the fact
// being captured. The server never sends datagrams.
package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"orion/server/internal/core"
	"orion/server/internal/metrics"
	"orion/server/internal/protocol"
)

const maxDatagramSize = 2048

// Listener reads datagrams and feeds observations into the lobby registry.
type Listener struct {
	conn     *net.UDPConn
	sessions *core.SessionRegistry
	lobbies  *core.LobbyRegistry
	metrics  *metrics.Metrics
}

// Listen binds the UDP socket. m may be nil.
func Listen(port int, sessions *core.SessionRegistry, lobbies *core.LobbyRegistry, m *metrics.Metrics) (*Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen udp :%d: %w", port, err)
	}
	slog.Info("udp listener bound", "addr", conn.LocalAddr().String())
	return &Listener{conn: conn, sessions: sessions, lobbies: lobbies, metrics: m}, nil
}

// Port returns the bound UDP port.
func (l *Listener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run reads datagrams until ctx is canceled. Malformed or unresolvable
// datagrams are dropped without reply; the datagram channel has no
// negative acknowledgement.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read udp: %w", err)
		}
		l.handleDatagram(buf[:n], src)
	}
}

func (l *Listener) handleDatagram(data []byte, src *net.UDPAddr) {
	if l.metrics != nil {
		l.metrics.Datagrams.Inc()
	}

	method, payload, err := protocol.Decode(data)
	if err != nil {
		slog.Debug("dropping malformed datagram", "src", src.String(), "err", err)
		return
	}
	if method != protocol.MethodMediationConnect {
		slog.Debug("dropping datagram with unexpected method", "src", src.String(), "method", method)
		return
	}

	var connect protocol.MediationConnect
	if err := json.Unmarshal(payload, &connect); err != nil {
		slog.Debug("dropping datagram with invalid payload", "src", src.String(), "err", err)
		return
	}
	if _, ok := l.sessions.LookupToken(connect.Token); !ok {
		slog.Warn("dropping datagram with unknown token", "src", src.String())
		return
	}

	// The recorded port is the datagram's source port; any port named in
	// the payload is ignored.
	l.lobbies.Observe(connect.Token, src.IP.String(), src.Port)
}
