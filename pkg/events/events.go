// Package events is the outbound notification port for session lifecycle
// events, with a watermill-backed adapter. Publishing is strictly
// best-effort: the engine never blocks auth flows on a bus.
package events

import (
	"context"
	"time"
)

// Session lifecycle event types.
const (
	TypeLogin          = "session.login"
	TypeLogout         = "session.logout"
	TypeSessionExpired = "session.expired"
	TypeTokenRefreshed = "session.token_refreshed"
)

// SessionEvent is one lifecycle event.
type SessionEvent struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publisher pushes session events to interested consumers.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
	return nil
}
