// Package protocol defines the wire frame format shared by the reliable
// websocket channel and the UDP datagram channel, plus the payload types
// carried inside frames.
//
// A frame is the text `method:base64(JSON(payload))`. The same codec is
// used in both directions on both channels.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Server-originated frame methods.
const (
	MethodClientRegistered     = "client_registered"
	MethodLobbyClosed          = "lobby_closed"
	MethodLobbyPeerConnect     = "lobby_peerConnect"
	MethodLobbyPeerDisconnect  = "lobby_peerDisconnect"
	MethodMessagingReceived    = "lobby_messaging_received"
	MethodMediationSend        = "ptpMediation_send"
	MethodMediationAborted     = "ptpMediation_aborted"
	MethodPeersConnectionStart = "ptpMediation_peersConnection_start"
	MethodMediationSuccess     = "ptpMediation_success"
)

// Client-originated frame methods.
const (
	MethodMessagingSend          = "lobby_messaging_send"
	MethodPeersConnectionSuccess = "ptpMediation_peersConnection_success"
	MethodMediationConnect       = "ptpMediation_connect"
)

// Encode serializes payload to JSON, base64s it, and prefixes the method.
func Encode(method string, payload any) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("method is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	out := make([]byte, 0, len(method)+1+len(encoded))
	out = append(out, method...)
	out = append(out, ':')
	out = append(out, encoded...)
	return out, nil
}

// Decode splits a frame on the first colon and base64-decodes the payload
// half. The returned payload is raw JSON for the caller to unmarshal into
// the method's payload type.
func Decode(data []byte) (method string, payload []byte, err error) {
	i := bytes.IndexByte(data, ':')
	if i <= 0 {
		return "", nil, fmt.Errorf("malformed frame: missing method separator")
	}
	method = string(data[:i])

	buf := make([]byte, base64.StdEncoding.DecodedLen(len(data[i+1:])))
	n, err := base64.StdEncoding.Decode(buf, data[i+1:])
	if err != nil {
		return "", nil, fmt.Errorf("malformed frame %s: %w", method, err)
	}
	return method, buf[:n], nil
}

// ClientRegistered delivers the session's secret token right after upgrade.
type ClientRegistered struct {
	Token string `json:"token"`
}

// LobbyClosed tells a member its lobby no longer exists.
type LobbyClosed struct {
	LobbyID   string `json:"lobbyId"`
	LobbyName string `json:"lobbyName"`
}

// LobbyPeerConnect tells existing members that a peer joined.
type LobbyPeerConnect struct {
	LobbyID  string `json:"lobbyId"`
	PeerName string `json:"peerName"`
}

// LobbyPeerDisconnect tells remaining members that a peer left.
type LobbyPeerDisconnect struct {
	LobbyID  string `json:"lobbyId"`
	PeerName string `json:"peerName"`
}

// ChatMessage is the inner body of a relayed chat frame.
type ChatMessage struct {
	Timestamp  int64  `json:"timestamp"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
}

// MessagingReceived relays a chat message to every member of a lobby.
type MessagingReceived struct {
	LobbyID string      `json:"lobbyId"`
	Message ChatMessage `json:"message"`
}

// MessagingSend is a client request to relay a chat message.
type MessagingSend struct {
	Token   string `json:"token"`
	LobbyID string `json:"lobbyId"`
	Message string `json:"message"`
}

// MediationSend asks a member to emit a datagram at the server's UDP port.
type MediationSend struct {
	Port int `json:"port"`
}

// MediationAborted carries the human-readable reason mediation stopped.
type MediationAborted struct {
	AbortReason string `json:"abortReason"`
}

// PeerEndpoint is one observed public address.
type PeerEndpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// PeersConnectionStart carries the endpoints a member should punch to.
type PeersConnectionStart struct {
	Peers []PeerEndpoint `json:"peers"`
}

// PeersConnectionSuccess acknowledges that a member reached its peers.
type PeersConnectionSuccess struct {
	Token string `json:"token"`
}

// MediationConnect is the datagram payload; only the token matters, the
// server records the datagram's source address.
type MediationConnect struct {
	Token string `json:"token"`
}
