package core

import (
	"log/slog"
	"time"

	"orion/server/internal/protocol"
)

// SendTimeout bounds how long a write to one session's buffer may block.
// Timer fires and cascade notifications must never hang on a slow peer.
const SendTimeout = 50 * time.Millisecond

// outbound pairs an encoded frame with its recipient. Registry methods
// collect outbounds under the lock and the caller delivers them after
// releasing it, so a stalled socket never holds up state transitions.
type outbound struct {
	sess  *Session
	frame []byte
}

// deliver best-effort sends each frame. A failure on one recipient does not
// stop fan-out to the others.
func deliver(outs []outbound) {
	for _, o := range outs {
		if o.frame == nil {
			continue
		}
		trySend(o.sess, o.frame)
	}
}

// trySend queues one frame, giving up after SendTimeout. A send racing the
// session's close is recovered and treated as a miss: writes to a closing
// stream are silently skipped.
func trySend(s *Session, frame []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case s.Send <- frame:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("frame send timeout", "session_id", s.ID)
		return false
	}
}

// encodeFrame wraps protocol.Encode for server-built payloads, which cannot
// fail to marshal. A nil return is skipped by trySend callers.
func encodeFrame(method string, payload any) []byte {
	frame, err := protocol.Encode(method, payload)
	if err != nil {
		slog.Error("encode frame", "method", method, "err", err)
		return nil
	}
	return frame
}
