package tokenstore

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
)

// Persisted key layout. One record per browser-equivalent session.
const (
	KeyAccessToken         = "chess_access_token"
	KeyRefreshToken        = "chess_refresh_token"
	KeyTokenExpiry         = "chess_token_expiry"
	KeySessionID           = "chess_session_id"
	KeyRefreshAttemptCount = "chess_refresh_attempt_count"
	KeySessionExpired      = "chess_session_expired"
)

// ExpiryBuffer is subtracted from the raw expiry when deciding whether a
// token counts as expired, so refresh starts before hard expiry rather than
// at it.
const ExpiryBuffer = 5 * time.Minute

// DefaultWarningThreshold is the default window for WillExpireSoon.
const DefaultWarningThreshold = 5 * time.Minute

// TokenSet is the credential bundle written on login or refresh success.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds until the access token expires
	SessionID    string
}

// Store persists tokens and session flags in a KV backend.
//
// Every operation is total: backend failures are logged and converted to a
// safe default (empty string, false, zero), never propagated to the caller.
type Store struct {
	kv  KV
	log *slog.Logger
	now func() time.Time
}

// New creates a Store on top of kv. A nil logger falls back to slog.Default.
func New(kv KV, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, log: log, now: time.Now}
}

// SetTokens writes the full credential bundle and stamps the expiry as
// now + ExpiresIn. New tokens mean fresh trust: the sticky session-expired
// flag and the persisted refresh-attempt counter are reset as part of the
// same write.
//
// Keys are written in a fixed order (access, refresh, expiry, session id)
// with no atomicity across them; see the note on KV.
func (s *Store) SetTokens(ctx context.Context, ts TokenSet) {
	expiry := s.now().Add(time.Duration(ts.ExpiresIn) * time.Second)

	s.set(ctx, KeyAccessToken, ts.AccessToken)
	s.set(ctx, KeyRefreshToken, ts.RefreshToken)
	s.set(ctx, KeyTokenExpiry, strconv.FormatInt(expiry.UnixMilli(), 10))
	s.set(ctx, KeySessionID, ts.SessionID)
	s.del(ctx, KeySessionExpired)
	s.del(ctx, KeyRefreshAttemptCount)
}

// AccessToken returns the stored access token or "" when absent.
func (s *Store) AccessToken(ctx context.Context) string {
	return s.get(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token or "" when absent.
func (s *Store) RefreshToken(ctx context.Context) string {
	return s.get(ctx, KeyRefreshToken)
}

// SessionID returns the stored session id or "" when absent.
func (s *Store) SessionID(ctx context.Context) string {
	return s.get(ctx, KeySessionID)
}

// IsTokenExpired reports whether the access token is inside the expiry
// buffer. No recorded expiry counts as expired.
func (s *Store) IsTokenExpired(ctx context.Context) bool {
	expiry, ok := s.expiry(ctx)
	if !ok {
		return true
	}
	return !s.now().Before(expiry.Add(-ExpiryBuffer))
}

// HasValidTokens reports whether both tokens are present and the access
// token is not expired.
func (s *Store) HasValidTokens(ctx context.Context) bool {
	return s.AccessToken(ctx) != "" &&
		s.RefreshToken(ctx) != "" &&
		!s.IsTokenExpired(ctx)
}

// WillExpireSoon reports whether the raw expiry falls within threshold from
// now. A zero threshold uses DefaultWarningThreshold. Already-expired tokens
// report false: those are past warning.
func (s *Store) WillExpireSoon(ctx context.Context, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}
	remaining := s.TimeUntilExpiry(ctx)
	return remaining > 0 && remaining <= threshold
}

// TimeUntilExpiry returns the duration until the raw expiry, floored at
// zero. No recorded expiry returns zero, i.e. already expired rather than
// unknown.
func (s *Store) TimeUntilExpiry(ctx context.Context) time.Duration {
	expiry, ok := s.expiry(ctx)
	if !ok {
		return 0
	}
	remaining := expiry.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarkSessionExpired sets the sticky session-expired flag. This is "the
// server declared this session dead", distinct from the access token's
// timer running out.
func (s *Store) MarkSessionExpired(ctx context.Context) {
	s.set(ctx, KeySessionExpired, "true")
}

// IsSessionExpired reports the sticky session-expired flag.
func (s *Store) IsSessionExpired(ctx context.Context) bool {
	return s.get(ctx, KeySessionExpired) == "true"
}

// ClearSessionExpiredFlag removes the sticky session-expired flag.
func (s *Store) ClearSessionExpiredFlag(ctx context.Context) {
	s.del(ctx, KeySessionExpired)
}

// IncrementRefreshAttempts bumps the persisted attempt counter. The counter
// survives process restarts and is independent of the refresh coordinator's
// in-memory failure count.
func (s *Store) IncrementRefreshAttempts(ctx context.Context) {
	n := s.RefreshAttemptCount(ctx)
	s.set(ctx, KeyRefreshAttemptCount, strconv.Itoa(n+1))
}

// RefreshAttemptCount returns the persisted attempt counter, zero when
// absent or unparseable.
func (s *Store) RefreshAttemptCount(ctx context.Context) int {
	raw := s.get(ctx, KeyRefreshAttemptCount)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ResetRefreshAttempts removes the persisted attempt counter.
func (s *Store) ResetRefreshAttempts(ctx context.Context) {
	s.del(ctx, KeyRefreshAttemptCount)
}

// ClearTokens removes credentials, expiry, session id and the attempt
// counter. The sticky session-expired flag is left alone so callers can
// still tell why the tokens disappeared.
func (s *Store) ClearTokens(ctx context.Context) {
	s.del(ctx, KeyAccessToken)
	s.del(ctx, KeyRefreshToken)
	s.del(ctx, KeyTokenExpiry)
	s.del(ctx, KeySessionID)
	s.del(ctx, KeyRefreshAttemptCount)
}

// ClearAll removes everything including the session-expired flag. This is
// the full reset used on explicit logout.
func (s *Store) ClearAll(ctx context.Context) {
	s.ClearTokens(ctx)
	s.del(ctx, KeySessionExpired)
}

func (s *Store) expiry(ctx context.Context) (time.Time, bool) {
	raw := s.get(ctx, KeyTokenExpiry)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.Warn("tokenstore: unparseable expiry value", "value", raw)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Store) get(ctx context.Context, key string) string {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("tokenstore: read failed", "key", key, "error", err)
		}
		return ""
	}
	return v
}

func (s *Store) set(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.log.Error("tokenstore: write failed", "key", key, "error", err)
	}
}

func (s *Store) del(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.log.Error("tokenstore: delete failed", "key", key, "error", err)
	}
}
