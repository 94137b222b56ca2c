package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// State is where an authentication attempt is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingCallback
	StateCallbackReceived
	StateValidating
	StateExchanging
	StateAuthenticated
	StateFailed
	StateTimedOut
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateCallbackReceived:
		return "callback_received"
	case StateValidating:
		return "validating"
	case StateExchanging:
		return "exchanging"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// generateState returns 256 bits of randomness, URL-safe.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
