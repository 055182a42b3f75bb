// Package sessionmon watches the session on the user's behalf: it polls
// token expiry, tracks activity, warns before expiry, refreshes or forces a
// login redirect once expiry hits, and fans notifications out to
// subscribers.
package sessionmon

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/chesspath/chessauth/pkg/authclient"
	"github.com/chesspath/chessauth/pkg/authlog"
	"github.com/chesspath/chessauth/pkg/events"
	"github.com/chesspath/chessauth/pkg/refresh"
	"github.com/chesspath/chessauth/pkg/tokenstore"
)

const (
	// PollInterval is how often the monitor re-evaluates session state.
	PollInterval = 30 * time.Second

	// WarningThreshold is how close to expiry a warning fires.
	WarningThreshold = 5 * time.Minute

	// IdleThreshold is how long without activity before the user no longer
	// gets expiry warnings.
	IdleThreshold = 30 * time.Minute

	// Redirect grace periods, long enough for the final notification to be
	// seen.
	noTokenRedirectDelay       = 3 * time.Second
	refreshFailedRedirectDelay = 5 * time.Second
)

// Monitor is the session experience monitor. Construct with New, start with
// Start, and always Cleanup when the session UI goes away.
type Monitor struct {
	svc         *authclient.Service
	tokens      *tokenstore.Store
	coordinator *refresh.Coordinator
	log         *authlog.Logger
	publisher   events.Publisher

	sched    Scheduler
	nav      Navigator
	activity ActivitySource
	now      func() time.Time

	mu             sync.Mutex
	listeners      map[int]func(Notification)
	nextListener   int
	lastActivity   time.Time
	warned         bool
	expired        bool
	started        bool
	closed         bool
	cancelPoll     func()
	cancelWarning  func()
	cancelRedirect func()
	cancelActivity func()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithScheduler substitutes the timer source.
func WithScheduler(s Scheduler) Option {
	return func(m *Monitor) { m.sched = s }
}

// WithNavigator provides the navigation capability; without one, redirects
// are dropped.
func WithNavigator(n Navigator) Option {
	return func(m *Monitor) { m.nav = n }
}

// WithActivitySource wires user-activity events into the idle tracker.
func WithActivitySource(a ActivitySource) Option {
	return func(m *Monitor) { m.activity = a }
}

// WithPublisher fans session transitions out to the events port.
func WithPublisher(p events.Publisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor over an already-wired session engine.
func New(
	svc *authclient.Service,
	tokens *tokenstore.Store,
	coordinator *refresh.Coordinator,
	log *authlog.Logger,
	opts ...Option,
) *Monitor {
	m := &Monitor{
		svc:         svc,
		tokens:      tokens,
		coordinator: coordinator,
		log:         log,
		publisher:   events.NopPublisher{},
		sched:       TimerScheduler{},
		nav:         nopNavigator{},
		now:         time.Now,
		listeners:   make(map[int]func(Notification)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins polling and activity tracking. Starting twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	// The user just arrived, so they count as active now.
	m.lastActivity = m.now()
	m.cancelPoll = m.sched.Every(PollInterval, func() { m.checkExpiry(ctx) })
	if m.activity != nil {
		m.cancelActivity = m.activity.Subscribe(m.RecordActivity)
	}
}

// Subscribe registers a notification listener and returns its unsubscribe
// func. A panicking listener is logged and never stops delivery to the rest.
func (m *Monitor) Subscribe(fn func(Notification)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// RecordActivity marks the user active as of at. Stale timestamps are
// ignored.
func (m *Monitor) RecordActivity(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.lastActivity) {
		m.lastActivity = at
	}
}

// Active reports whether the user acted within the idle threshold.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastActivity) < IdleThreshold
}

// ForceExpiryCheck runs one expiry evaluation immediately, outside the poll
// cadence. After Cleanup it does nothing.
func (m *Monitor) ForceExpiryCheck(ctx context.Context) {
	m.checkExpiry(ctx)
}

// ManualRefresh refreshes on the user's explicit request, bypassing the
// poll cadence, and reports the outcome.
func (m *Monitor) ManualRefresh(ctx context.Context) bool {
	m.notify(Notification{Type: NotificationRefreshing, Message: MsgRefreshing})

	if m.coordinator.RefreshToken(ctx) {
		m.resetAlarms()
		m.notify(Notification{Type: NotificationRefreshing, Message: MsgRefreshed})
		m.publish(ctx, events.TypeTokenRefreshed, map[string]any{"trigger": "manual"})
		return true
	}

	m.notify(Notification{
		Type:    NotificationExpired,
		Message: MsgRefreshFailed,
		Action:  ActionLogin,
	})
	return false
}

// Logout tears down monitor timers, delegates to the auth service, and then
// always redirects to the login page carrying the current path and a reason
// code, server reachability notwithstanding.
func (m *Monitor) Logout(ctx context.Context) {
	m.resetAlarms()
	target := m.loginURL(ReasonManualLogout)
	m.svc.Logout(ctx)
	m.nav.Redirect(target)
}

// Cleanup makes the monitor fully inert: polling stops, armed timers are
// cancelled, listeners are dropped, and no further notifications can fire.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, cancel := range []func(){m.cancelPoll, m.cancelWarning, m.cancelRedirect, m.cancelActivity} {
		if cancel != nil {
			cancel()
		}
	}
	m.cancelPoll, m.cancelWarning, m.cancelRedirect, m.cancelActivity = nil, nil, nil, nil
	m.listeners = nil
}

func (m *Monitor) checkExpiry(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.tokens.IsSessionExpired(ctx) || m.tokens.AccessToken(ctx) == "" {
		return
	}

	remaining := m.tokens.TimeUntilExpiry(ctx)
	switch {
	case remaining <= 0:
		m.handleExpired(ctx)
	case remaining <= WarningThreshold && m.Active() && !m.coordinator.Refreshing():
		m.handleWarning(ctx, remaining)
	default:
		// Steady state. A refresh may have pushed expiry out, so re-arm the
		// warning machinery for the next cycle.
		m.resetAlarms()
	}
}

func (m *Monitor) handleExpired(ctx context.Context) {
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return
	}
	m.expired = true
	if m.cancelWarning != nil {
		m.cancelWarning()
		m.cancelWarning = nil
	}
	m.mu.Unlock()

	canRefresh := m.tokens.RefreshToken(ctx) != ""

	action := ActionLogin
	if canRefresh {
		action = ActionRefresh
	}
	m.notify(Notification{
		Type:       NotificationExpired,
		Message:    MsgExpired,
		CanRefresh: canRefresh,
		Action:     action,
	})
	m.publish(ctx, events.TypeSessionExpired, map[string]any{"can_refresh": canRefresh})

	if !canRefresh {
		m.notify(Notification{
			Type:    NotificationExpired,
			Message: MsgNoRefreshToken,
			Action:  ActionLogin,
		})
		m.redirectAfter(noTokenRedirectDelay, ReasonSessionExpired)
		return
	}

	m.notify(Notification{Type: NotificationRefreshing, Message: MsgRefreshing})

	if m.coordinator.RefreshToken(ctx) {
		m.resetAlarms()
		m.notify(Notification{Type: NotificationRefreshing, Message: MsgRefreshed})
		m.publish(ctx, events.TypeTokenRefreshed, map[string]any{"trigger": "auto"})
		return
	}

	m.notify(Notification{
		Type:    NotificationExpired,
		Message: MsgRefreshFailed,
		Action:  ActionLogin,
	})
	m.redirectAfter(refreshFailedRedirectDelay, ReasonRefreshFailed)
}

func (m *Monitor) handleWarning(ctx context.Context, remaining time.Duration) {
	m.mu.Lock()
	if m.warned {
		m.mu.Unlock()
		return
	}
	m.warned = true
	if m.cancelWarning != nil {
		m.cancelWarning()
	}
	// Re-check at actual expiry instead of waiting out the poll interval.
	m.cancelWarning = m.sched.After(remaining, func() {
		m.checkExpiry(ctx)
	})
	m.mu.Unlock()

	m.notify(Notification{
		Type:          NotificationWarning,
		Message:       MsgExpiryWarning,
		TimeRemaining: minutesLeft(remaining),
		CanRefresh:    true,
		Action:        ActionRefresh,
	})
}

// resetAlarms returns the monitor to steady state: warning and expiry
// latches cleared, one-shot timers cancelled.
func (m *Monitor) resetAlarms() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warned = false
	m.expired = false
	if m.cancelWarning != nil {
		m.cancelWarning()
		m.cancelWarning = nil
	}
	if m.cancelRedirect != nil {
		m.cancelRedirect()
		m.cancelRedirect = nil
	}
}

func (m *Monitor) redirectAfter(d time.Duration, reason string) {
	target := m.loginURL(reason)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.cancelRedirect != nil {
		m.cancelRedirect()
	}
	m.cancelRedirect = m.sched.After(d, func() {
		m.nav.Redirect(target)
	})
}

func (m *Monitor) loginURL(reason string) string {
	return "/login?redirect=" + url.QueryEscape(m.nav.CurrentPath()) + "&reason=" + reason
}

func (m *Monitor) notify(n Notification) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	fns := make([]func(Notification), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		m.deliver(fn, n)
	}
}

func (m *Monitor) deliver(fn func(Notification), n Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Log(context.Background(), authlog.EventAuthError, "sessionmon",
				map[string]any{"operation": "notify_listener", "panic": r})
		}
	}()
	fn(n)
}

func (m *Monitor) publish(ctx context.Context, typ string, details map[string]any) {
	event := events.SessionEvent{
		Type:       typ,
		SessionID:  m.tokens.SessionID(ctx),
		OccurredAt: m.now(),
		Details:    details,
	}
	if err := m.publisher.PublishSessionEvent(ctx, event); err != nil {
		m.log.Log(ctx, authlog.EventAuthError, "sessionmon",
			map[string]any{"operation": "publish_event", "error": err.Error()})
	}
}

// minutesLeft converts a remaining duration to whole minutes, rounded up,
// so "4m01s left" reads as 5 minutes.
func minutesLeft(d time.Duration) int {
	return int((d + time.Minute - 1) / time.Minute)
}
