// Package authlog is an append-only, size-bounded event log for the
// authentication session engine, with derived statistics and health views.
//
// The logger is strictly an observer: the token store and refresh
// coordinator write to it, nothing reads it on a control-flow path. It never
// blocks and never fails its caller.
package authlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chesspath/chessauth/pkg/idx"
)

// EventType classifies a logged auth event.
type EventType string

const (
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventLogout           EventType = "logout"
	EventTokensStored     EventType = "tokens_stored"
	EventTokensCleared    EventType = "tokens_cleared"
	EventSessionExpired   EventType = "session_expired"
	EventRefreshAttempt   EventType = "refresh_attempt"
	EventRefreshSuccess   EventType = "refresh_success"
	EventRefreshFailure   EventType = "refresh_failure"
	EventBreakerActivated EventType = "circuit_breaker_activated"
	EventBreakerReset     EventType = "circuit_breaker_reset"
	EventQueueDrained     EventType = "queue_drained"
	EventQueueRejected    EventType = "queue_rejected"
	EventRefreshLoop      EventType = "refresh_loop_detected"
	EventAuthError        EventType = "auth_error"
)

// Entry is one immutable logged event.
type Entry struct {
	ID        idx.ID
	Timestamp time.Time
	Type      EventType
	Context   string
	Details   map[string]any
	SessionID string
}

// SessionIDProvider is a read-only lookup for the current session id. The
// token store satisfies it; the dependency is one-way by design (the store
// never talks back to the logger).
type SessionIDProvider interface {
	SessionID(ctx context.Context) string
}

const (
	// maxEntries bounds the ring buffer; the oldest entries drop first.
	maxEntries = 1000

	// Health window parameters: healthy means fewer than healthErrorLimit
	// error-severity entries in the last healthWindow and no circuit-breaker
	// activation in that window.
	healthWindow     = 5 * time.Minute
	healthErrorLimit = 5
)

// Logger is the append-only sink. The zero value is not usable; construct
// with New.
type Logger struct {
	mu      sync.RWMutex
	entries []Entry

	session SessionIDProvider
	mirror  *slog.Logger
	now     func() time.Time
}

// New creates a Logger. session may be nil when no session id lookup is
// available; mirror may be nil to skip mirroring entries to slog.
func New(session SessionIDProvider, mirror *slog.Logger) *Logger {
	if mirror == nil {
		mirror = slog.New(slog.DiscardHandler)
	}
	return &Logger{
		session: session,
		mirror:  mirror,
		now:     time.Now,
	}
}

// Log appends an event. It stamps the current time and session id, mirrors
// the entry to slog at the type's severity, and truncates the buffer from
// the front past maxEntries. Failures inside the logger are swallowed.
func (l *Logger) Log(ctx context.Context, typ EventType, logCtx string, details map[string]any) {
	defer func() {
		// A panicking detail value must never take the caller down.
		_ = recover()
	}()

	var sessionID string
	if l.session != nil {
		sessionID = l.session.SessionID(ctx)
	}

	entry := Entry{
		ID:        idx.New(),
		Timestamp: l.now(),
		Type:      typ,
		Context:   logCtx,
		Details:   details,
		SessionID: sessionID,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxEntries {
		l.entries = l.entries[len(l.entries)-maxEntries:]
	}
	l.mu.Unlock()

	attrs := []any{"context", logCtx, "session_id", sessionID}
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	l.mirror.Log(ctx, severity(typ).slogLevel(), string(typ), attrs...)
}

// Severity is the presentation class of an event; it never affects stored
// state.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityError:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// severity routes event types to presentation severity.
func severity(typ EventType) Severity {
	switch typ {
	case EventLoginFailure, EventRefreshFailure, EventBreakerActivated,
		EventRefreshLoop, EventAuthError, EventQueueRejected:
		return SeverityError
	case EventSessionExpired, EventLogout:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// SeverityOf exposes the routing for presentation layers.
func SeverityOf(typ EventType) Severity { return severity(typ) }

// Recent returns up to n newest entries, newest first.
func (l *Logger) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}

	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// ByType returns all entries of the given type, oldest first.
func (l *Logger) ByType(typ EventType) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of retained entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
