// Package authclient is the public façade of the authentication session
// engine: login/logout, authentication predicates, and the policy that
// classifies 401 responses into "needs refresh" versus "fatal, force
// logout".
package authclient

import (
	"context"
	"time"

	"github.com/chesspath/chessauth/pkg/authlog"
	"github.com/chesspath/chessauth/pkg/events"
	"github.com/chesspath/chessauth/pkg/refresh"
	"github.com/chesspath/chessauth/pkg/tokenstore"
)

// Service wires the token store, refresh coordinator and transport into the
// operations the rest of the client calls.
type Service struct {
	tokens      *tokenstore.Store
	coordinator *refresh.Coordinator
	transport   Transport
	log         *authlog.Logger
	publisher   events.Publisher
	now         func() time.Time
}

// NewService constructs the façade. publisher and log may be nil.
func NewService(
	tokens *tokenstore.Store,
	coordinator *refresh.Coordinator,
	transport Transport,
	log *authlog.Logger,
	publisher events.Publisher,
) *Service {
	if log == nil {
		log = authlog.New(tokens, nil)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		tokens:      tokens,
		coordinator: coordinator,
		transport:   transport,
		log:         log,
		publisher:   publisher,
		now:         time.Now,
	}
}

// Login authenticates against the API and, on success, stores the issued
// credential bundle. On failure the processed error propagates and stored
// state is untouched.
func (s *Service) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	resp, err := s.transport.Login(ctx, creds)
	if err != nil {
		s.log.Log(ctx, authlog.EventLoginFailure, "service",
			map[string]any{"username": creds.Username, "error": err.Error()})
		return nil, err
	}

	s.tokens.SetTokens(ctx, tokenstore.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		SessionID:    resp.SessionID,
	})

	s.log.Log(ctx, authlog.EventTokensStored, "service",
		map[string]any{"source": "login", "expires_in": resp.ExpiresIn})
	s.log.Log(ctx, authlog.EventLoginSuccess, "service",
		map[string]any{"username": creds.Username})
	s.publish(ctx, events.TypeLogin, nil)

	return resp, nil
}

// Logout tells the server goodbye and then, regardless of how that call
// went, clears every piece of local state. Stale credentials must never
// survive a logout, even with the server unreachable.
func (s *Service) Logout(ctx context.Context) {
	token := s.tokens.AccessToken(ctx)
	sessionID := s.tokens.SessionID(ctx)

	if err := s.transport.Logout(ctx, token); err != nil {
		s.log.Log(ctx, authlog.EventAuthError, "service",
			map[string]any{"operation": "logout", "error": err.Error()})
	}

	s.log.Log(ctx, authlog.EventLogout, "service", nil)
	s.publish(ctx, events.TypeLogout, map[string]any{"session_id": sessionID})

	s.tokens.ClearAll(ctx)
	s.coordinator.ClearState()
	s.log.Log(ctx, authlog.EventTokensCleared, "service",
		map[string]any{"reason": "logout"})
}

// IsAuthenticated reports whether the session is usable: not flagged
// expired, both tokens present, access token not inside the expiry buffer.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	if s.tokens.IsSessionExpired(ctx) {
		return false
	}
	return s.tokens.HasValidTokens(ctx)
}

// NeedsTokenRefresh reports whether a refresh is the right next move: token
// expired, a refresh token on hand, session not already declared dead.
func (s *Service) NeedsTokenRefresh(ctx context.Context) bool {
	return s.tokens.IsTokenExpired(ctx) &&
		s.tokens.RefreshToken(ctx) != "" &&
		!s.tokens.IsSessionExpired(ctx)
}

// EnsureValidToken makes the access token usable if it can: already valid
// means true, refreshable means the coordinator's outcome, anything else is
// false. A session flagged expired short-circuits without any attempt.
func (s *Service) EnsureValidToken(ctx context.Context) bool {
	if s.tokens.IsSessionExpired(ctx) {
		return false
	}
	if s.tokens.HasValidTokens(ctx) {
		return true
	}
	if s.NeedsTokenRefresh(ctx) {
		return s.coordinator.RefreshToken(ctx)
	}
	return false
}

// HandleAuthError applies the 401 classification policy. A 401 from the
// refresh endpoint is fatal: the session is marked expired and all local
// and coordinator state is cleared. Any other 401 marks the session expired
// but keeps stored tokens so an explicit refresh can still be attempted.
// Non-401 errors are not auth errors and are ignored here.
func (s *Service) HandleAuthError(ctx context.Context, err error) {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Status != 401 {
		return
	}

	if apiErr.Endpoint == EndpointRefresh {
		s.log.Log(ctx, authlog.EventSessionExpired, "service",
			map[string]any{"fatal": true, "endpoint": apiErr.Endpoint})
		s.publish(ctx, events.TypeSessionExpired, map[string]any{"fatal": true})

		// Clear first: ClearAll also wipes the expired flag, so the mark
		// must land after it.
		s.tokens.ClearAll(ctx)
		s.tokens.MarkSessionExpired(ctx)
		s.coordinator.ClearState()
		s.log.Log(ctx, authlog.EventTokensCleared, "service",
			map[string]any{"reason": "session_expired"})
		return
	}

	s.log.Log(ctx, authlog.EventSessionExpired, "service",
		map[string]any{"fatal": false, "endpoint": apiErr.Endpoint})
	s.publish(ctx, events.TypeSessionExpired, map[string]any{"fatal": false})
	s.tokens.MarkSessionExpired(ctx)
}

func (s *Service) publish(ctx context.Context, typ string, details map[string]any) {
	event := events.SessionEvent{
		Type:       typ,
		SessionID:  s.tokens.SessionID(ctx),
		OccurredAt: s.now(),
		Details:    details,
	}
	if err := s.publisher.PublishSessionEvent(ctx, event); err != nil {
		s.log.Log(ctx, authlog.EventAuthError, "service",
			map[string]any{"operation": "publish_event", "error": err.Error()})
	}
}
