// Package refresh owns the single-flight token refresh operation: a circuit
// breaker bounding consecutive failures, in-flight deduplication, and a FIFO
// queue of requests waiting for a fresh token that is replayed or rejected
// atomically once the refresh settles.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chesspath/chessauth/pkg/authlog"
	"github.com/chesspath/chessauth/pkg/tokenstore"
)

const (
	// DefaultMaxRetries is the consecutive-failure count that trips the
	// circuit breaker.
	DefaultMaxRetries = 3

	// DefaultCooldown is how long the breaker stays tripped after the last
	// failure before it resets automatically.
	DefaultCooldown = 30 * time.Second
)

var (
	// ErrRefreshFailed rejects every queued request when the underlying
	// refresh fails.
	ErrRefreshFailed = errors.New("refresh: token refresh failed")

	// ErrStateCleared rejects pending requests dropped by ClearState.
	ErrStateCleared = errors.New("refresh: state cleared")
)

// Request is a previously-failed HTTP request waiting to be replayed with a
// fresh token.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// Response is the replayed request's outcome.
type Response struct {
	Status  int
	Body    []byte
	Headers map[string]string
}

// TokenGrant is a successful refresh result from the transport.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	SessionID    string
}

// Transport is the network collaborator. It owns its own timeouts; the
// coordinator imposes none of its own, so a hung refresh call holds the
// single-flight gate until it returns (ClearState is the manual escape
// hatch, wired to logout).
type Transport interface {
	// Refresh exchanges the refresh token for a new grant.
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)

	// Replay re-issues req as given, including its Authorization header.
	Replay(ctx context.Context, req *Request) (*Response, error)
}

// TokenStore is the slice of the token store the coordinator needs.
// *tokenstore.Store satisfies it.
type TokenStore interface {
	AccessToken(ctx context.Context) string
	RefreshToken(ctx context.Context) string
	SetTokens(ctx context.Context, ts tokenstore.TokenSet)
	ClearTokens(ctx context.Context)
	IncrementRefreshAttempts(ctx context.Context)
	IsTokenExpired(ctx context.Context) bool
}

// waiter is one queued caller awaiting the outcome of the current or next
// refresh cycle. ctx is the caller's own context; its replay runs on it.
type waiter struct {
	ctx  context.Context
	req  *Request
	done chan waitResult
}

type waitResult struct {
	resp *Response
	err  error
}

// Coordinator serializes refresh attempts and drains the pending queue.
type Coordinator struct {
	tokens    TokenStore
	transport Transport
	log       *authlog.Logger

	maxRetries int
	cooldown   time.Duration
	now        func() time.Time

	mu            sync.Mutex
	refreshing    bool
	draining      bool
	failureCount  int
	lastFailure   time.Time
	breakerLogged bool
	pending       []*waiter
}

// Option tweaks a Coordinator; used by tests to shrink timings.
type Option func(*Coordinator)

// WithLimits overrides the retry bound and cooldown window.
func WithLimits(maxRetries int, cooldown time.Duration) Option {
	return func(c *Coordinator) {
		c.maxRetries = maxRetries
		c.cooldown = cooldown
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. log may be nil.
func New(tokens TokenStore, transport Transport, log *authlog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = authlog.New(nil, nil)
	}
	c := &Coordinator{
		tokens:     tokens,
		transport:  transport,
		log:        log,
		maxRetries: DefaultMaxRetries,
		cooldown:   DefaultCooldown,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefreshToken performs a single refresh cycle. It returns false without any
// network call when the circuit breaker is tripped or another refresh is
// already in flight; only the caller that actually started the refresh gets
// its outcome as true/false.
func (c *Coordinator) RefreshToken(ctx context.Context) bool {
	c.mu.Lock()
	if !c.breakerAllowsLocked() {
		c.mu.Unlock()
		c.log.Log(ctx, authlog.EventRefreshAttempt, "coordinator",
			map[string]any{"skipped": "circuit_breaker_active"})
		return false
	}
	if c.refreshing {
		c.mu.Unlock()
		return false
	}
	c.refreshing = true
	c.mu.Unlock()

	// The gate must never wedge, whatever happens below.
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	return c.doRefresh(ctx)
}

// doRefresh runs with the single-flight gate held.
func (c *Coordinator) doRefresh(ctx context.Context) bool {
	start := c.now()
	c.log.Log(ctx, authlog.EventRefreshAttempt, "coordinator", nil)

	refreshToken := c.tokens.RefreshToken(ctx)
	if refreshToken == "" {
		c.refreshFailed(ctx, start, "no refresh token available")
		return false
	}

	grant, err := c.transport.Refresh(ctx, refreshToken)
	if err != nil {
		c.refreshFailed(ctx, start, err.Error())
		return false
	}

	c.tokens.SetTokens(ctx, tokenstore.TokenSet{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresIn:    grant.ExpiresIn,
		SessionID:    grant.SessionID,
	})
	c.ResetFailureCount()

	c.log.Log(ctx, authlog.EventTokensStored, "coordinator",
		map[string]any{"source": "refresh", "expires_in": grant.ExpiresIn})
	c.log.Log(ctx, authlog.EventRefreshSuccess, "coordinator",
		map[string]any{"duration_ms": c.now().Sub(start).Milliseconds()})

	// A grant already inside the expiry buffer would trigger another
	// refresh at the very next check, turning the engine into a refresh
	// storm against the server.
	if c.tokens.IsTokenExpired(ctx) {
		c.log.Log(ctx, authlog.EventRefreshLoop, "coordinator",
			map[string]any{"expires_in": grant.ExpiresIn})
	}
	return true
}

func (c *Coordinator) refreshFailed(ctx context.Context, start time.Time, reason string) {
	c.RecordFailure()
	c.tokens.ClearTokens(ctx)
	c.tokens.IncrementRefreshAttempts(ctx)
	c.log.Log(ctx, authlog.EventTokensCleared, "coordinator",
		map[string]any{"reason": "refresh_failure"})
	c.log.Log(ctx, authlog.EventRefreshFailure, "coordinator", map[string]any{
		"reason":      reason,
		"duration_ms": c.now().Sub(start).Milliseconds(),
	})
}

// CanAttemptRefresh reports whether a refresh is worth attempting: a refresh
// token must exist and the circuit breaker must allow it. When the cooldown
// has elapsed this call resets the failure counter as a side effect; use
// IsCircuitBreakerActive for a pure read.
func (c *Coordinator) CanAttemptRefresh(ctx context.Context) bool {
	if c.tokens.RefreshToken(ctx) == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakerAllowsLocked()
}

// breakerAllowsLocked gates on the circuit breaker and resets it when the
// cooldown has elapsed. Caller holds c.mu.
func (c *Coordinator) breakerAllowsLocked() bool {
	if c.failureCount < c.maxRetries {
		return true
	}
	if c.now().Sub(c.lastFailure) < c.cooldown {
		return false
	}

	// Cooldown expiry doubles as the automatic breaker reset.
	c.resetFailureCountLocked()
	return true
}

// IsCircuitBreakerActive is the read-only view of the breaker condition. It
// agrees with CanAttemptRefresh's gating but never mutates state, so
// monitoring code can poll it freely.
func (c *Coordinator) IsCircuitBreakerActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount >= c.maxRetries && c.now().Sub(c.lastFailure) < c.cooldown
}

// RecordFailure bumps the failure counter and stamps the failure time. The
// activation event is logged exactly once per activation, not once per
// subsequent failure.
func (c *Coordinator) RecordFailure() {
	c.mu.Lock()
	c.failureCount++
	c.lastFailure = c.now()
	activated := c.failureCount >= c.maxRetries && !c.breakerLogged
	if activated {
		c.breakerLogged = true
	}
	count := c.failureCount
	c.mu.Unlock()

	if activated {
		c.log.Log(context.Background(), authlog.EventBreakerActivated, "coordinator",
			map[string]any{"failure_count": count, "cooldown_ms": c.cooldown.Milliseconds()})
	}
}

// ResetFailureCount zeroes the breaker counters. The reset event is only
// logged when there was something to reset.
func (c *Coordinator) ResetFailureCount() {
	c.mu.Lock()
	c.resetFailureCountLocked()
	c.mu.Unlock()
}

// Caller holds c.mu.
func (c *Coordinator) resetFailureCountLocked() {
	if c.failureCount == 0 {
		return
	}
	prev := c.failureCount
	c.failureCount = 0
	c.lastFailure = time.Time{}
	c.breakerLogged = false

	c.log.Log(context.Background(), authlog.EventBreakerReset, "coordinator",
		map[string]any{"previous_count": prev})
}

// StateSnapshot is a read-only view of the coordinator for introspection and
// tests.
type StateSnapshot struct {
	Refreshing      bool
	FailureCount    int
	LastFailure     time.Time
	PendingRequests int
}

// State returns a snapshot of the in-memory refresh state.
func (c *Coordinator) State() StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StateSnapshot{
		Refreshing:      c.refreshing,
		FailureCount:    c.failureCount,
		LastFailure:     c.lastFailure,
		PendingRequests: len(c.pending),
	}
}

// Refreshing reports whether a refresh is currently in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}
