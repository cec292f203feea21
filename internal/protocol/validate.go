package protocol

import (
	"fmt"
	"regexp"
)

// Wire-protocol limits.
const (
	MaxNameLength = 50 // lobby names and display names
	MinChatLength = 1
	MaxChatLength = 250
	MinCapacity   = 1
	MaxCapacity   = 64

	LobbyIDLength   = 5
	LobbyIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// namePattern admits word characters followed by word characters or spaces,
// so a name can never start with a space.
var namePattern = regexp.MustCompile(`^\w+[\w ]*$`)

var lobbyIDPattern = regexp.MustCompile(`^[A-Z0-9]{5}$`)

// ValidateName reports whether s is acceptable as a lobby or display name.
func ValidateName(s string) error {
	if len(s) > MaxNameLength {
		return fmt.Errorf("name must not exceed %d characters", MaxNameLength)
	}
	if !namePattern.MatchString(s) {
		return fmt.Errorf("name must be alphanumeric and must not start with a space")
	}
	return nil
}

// ValidateChatMessage bounds the length of a relayed chat body.
func ValidateChatMessage(s string) error {
	if len(s) < MinChatLength || len(s) > MaxChatLength {
		return fmt.Errorf("message length must be between %d and %d characters", MinChatLength, MaxChatLength)
	}
	return nil
}

// ValidateCapacity bounds a lobby's maximum member count.
func ValidateCapacity(n int) error {
	if n < MinCapacity || n > MaxCapacity {
		return fmt.Errorf("capacity must be between %d and %d", MinCapacity, MaxCapacity)
	}
	return nil
}

// ValidLobbyID reports whether s has the exact shape of a lobby ID.
func ValidLobbyID(s string) bool {
	return lobbyIDPattern.MatchString(s)
}
