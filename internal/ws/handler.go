// Package ws owns the reliable-channel transport: one websocket per
// session, upgraded from HTTP/1.1, carrying text frames in the
// method:base64(JSON) format.
package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"orion/server/internal/core"
	"orion/server/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	maxFrameSize = 1 << 16
)

// Handler upgrades websocket requests and routes inbound stream frames.
type Handler struct {
	sessions *core.SessionRegistry
	lobbies  *core.LobbyRegistry
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to the two registries.
func NewHandler(sessions *core.SessionRegistry, lobbies *core.LobbyRegistry) *Handler {
	return &Handler{
		sessions: sessions,
		lobbies:  lobbies,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router. The root path is the
// canonical upgrade endpoint; /ws is an alias.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.HandleWebSocket)
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)

	// Open queues client_registered first, so the writer goroutine below
	// always delivers it before anything else.
	session, err := h.sessions.Open(core.DefaultSendBuffer)
	if err != nil {
		slog.Error("open session", "err", err)
		conn.Close()
		return
	}

	defer func() {
		h.lobbies.OnSessionClose(session)
		h.sessions.Close(session.ID)
	}()

	// The writer drains the session's send channel onto the socket and
	// closes the socket when the channel is closed, which also unblocks
	// the read loop below on registry shutdown.
	go func() {
		for frame := range session.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				break
			}
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(session, data)
	}
}

// handleFrame dispatches one inbound stream frame. Unknown methods, bad
// base64, and schema-invalid payloads are dropped without acknowledgement.
func (h *Handler) handleFrame(session *core.Session, data []byte) {
	method, payload, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("dropping malformed stream frame", "session_id", session.ID, "err", err)
		return
	}

	switch method {
	case protocol.MethodMessagingSend:
		var msg protocol.MessagingSend
		if err := json.Unmarshal(payload, &msg); err != nil {
			slog.Warn("dropping invalid chat frame", "session_id", session.ID, "err", err)
			return
		}
		if _, ok := h.sessions.LookupToken(msg.Token); !ok {
			slog.Warn("dropping chat frame with unknown token", "session_id", session.ID)
			return
		}
		if err := h.lobbies.SendChat(msg.Token, msg.LobbyID, msg.Message); err != nil {
			slog.Warn("chat relay refused", "session_id", session.ID, "err", err)
		}

	case protocol.MethodPeersConnectionSuccess:
		var ack protocol.PeersConnectionSuccess
		if err := json.Unmarshal(payload, &ack); err != nil {
			slog.Warn("dropping invalid success ack", "session_id", session.ID, "err", err)
			return
		}
		if _, ok := h.sessions.LookupToken(ack.Token); !ok {
			slog.Warn("dropping success ack with unknown token", "session_id", session.ID)
			return
		}
		h.lobbies.AckSuccess(ack.Token)

	default:
		slog.Warn("dropping unknown stream method", "session_id", session.ID, "method", method)
	}
}
