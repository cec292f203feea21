package main

import (
	"context"
	"log/slog"
	"time"

	"orion/server/internal/core"
)

// RunStats logs registry counts every interval until ctx is canceled.
func RunStats(ctx context.Context, sessions *core.SessionRegistry, lobbies *core.LobbyRegistry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nSessions := sessions.Count()
			nLobbies := lobbies.Count()
			if nSessions > 0 || nLobbies > 0 {
				slog.Info("stats", "sessions", nSessions, "lobbies", nLobbies)
			}
		}
	}
}
