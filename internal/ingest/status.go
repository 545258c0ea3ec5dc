package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var ErrInvalidURL = errors.New("ingest: url must be ws:// or wss:// with a host")

type Phase string

const (
	PhaseStarting     Phase = "starting"
	PhaseConnecting   Phase = "connecting"
	PhaseOpen         Phase = "open"
	PhaseClosed       Phase = "closed"
	PhaseReconnecting Phase = "reconnecting"
	PhaseError        Phase = "error"
	PhaseStopped      Phase = "stopped"
)

// ConnectionStatus is owned by the Client; callers only ever see copies.
type ConnectionStatus struct {
	URL           string    `json:"url"`
	Connected     bool      `json:"connected"`
	Attempt       int       `json:"attempt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Stale         bool      `json:"stale"`
	Phase         Phase     `json:"phase"`
	LastError     string    `json:"lastError,omitempty"`
	LastCloseCode int       `json:"lastCloseCode,omitempty"`
	Messages      int64     `json:"messages"`
	LastCloseAt   time.Time `json:"lastCloseAt"`
	LastErrorAt   time.Time `json:"lastErrorAt"`
}

// StatusEvent is published on every transition. The embedded status is the
// state after the transition.
type StatusEvent struct {
	ConnectionStatus
	CloseCode int    `json:"closeCode,omitempty"`
	Error     string `json:"error,omitempty"`
	WaitMs    int64  `json:"waitMs,omitempty"`
}

const (
	backoffBase = 250 * time.Millisecond
	backoffMax  = 8 * time.Second
	jitterMax   = 250 * time.Millisecond
)

// Backoff returns the wait before reconnect attempt n:
// clamp(250ms * 2^n, 250ms, 8s) plus jitter.
func Backoff(attempt int, jitter func() time.Duration) time.Duration {
	d := backoffMax
	if attempt < 6 {
		d = min(max(backoffBase<<max(attempt, 0), backoffBase), backoffMax)
	}
	if jitter != nil {
		d += jitter()
	}
	return d
}

// ValidateURL accepts ws:// and wss:// URLs that name a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
