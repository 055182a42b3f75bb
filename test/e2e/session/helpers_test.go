package session_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chesspath/chessauth/pkg/authclient"
	"github.com/chesspath/chessauth/pkg/authlog"
	"github.com/chesspath/chessauth/pkg/refresh"
	"github.com/chesspath/chessauth/pkg/tokenstore"
	"github.com/chesspath/chessauth/pkg/tokenstore/drivers/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

/*
 * Common helpers for session engine end-to-end tests: a fake chess platform
 * API (login, refresh, logout, one protected endpoint) and the engine
 * wiring against it.
 */

const (
	testUsername = "magnus"
	testPassword = "Caruana2018!"
)

// chessAPI is an in-process stand-in for the chess platform backend. It
// verifies passwords with bcrypt, mints HS256 JWTs, and rotates refresh
// tokens the way the real API does.
type chessAPI struct {
	server *httptest.Server
	secret []byte

	mu           sync.Mutex
	passwords    map[string][]byte // username -> bcrypt hash
	sessions     map[string]string // refresh token -> session id
	expiresIn    int
	failRefresh  bool
	refreshCalls int
}

func newChessAPI(t *testing.T) *chessAPI {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	api := &chessAPI{
		secret:    []byte("e2e-signing-secret"),
		passwords: map[string][]byte{testUsername: hash},
		sessions:  make(map[string]string),
		expiresIn: 3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+authclient.EndpointLogin, api.handleLogin)
	mux.HandleFunc("POST "+authclient.EndpointRefresh, api.handleRefresh)
	mux.HandleFunc("POST "+authclient.EndpointLogout, api.handleLogout)
	mux.HandleFunc("GET /puzzles/daily", api.handlePuzzle)

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *chessAPI) setFailRefresh(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failRefresh = fail
}

func (a *chessAPI) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func (a *chessAPI) mintAccessToken(username string, expiresIn int) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Duration(expiresIn) * time.Second).Unix(),
	})
	signed, _ := token.SignedString(a.secret)
	return signed
}

func (a *chessAPI) grant(username string) map[string]any {
	refreshToken := uuid.NewString()
	sessionID := uuid.NewString()

	a.mu.Lock()
	a.sessions[refreshToken] = sessionID
	expiresIn := a.expiresIn
	a.mu.Unlock()

	return map[string]any{
		"access_token":  a.mintAccessToken(username, expiresIn),
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
		"token_type":    "Bearer",
		"session_id":    sessionID,
		"user":          map[string]any{"username": username},
	}
}

func (a *chessAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds authclient.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "malformed body"})
		return
	}

	a.mu.Lock()
	hash, ok := a.passwords[creds.Username]
	a.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, a.grant(creds.Username))
}

func (a *chessAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.refreshCalls++
	fail := a.failRefresh
	a.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "refresh token revoked"})
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "malformed body"})
		return
	}

	a.mu.Lock()
	_, known := a.sessions[body.RefreshToken]
	if known {
		// One-time use: the old refresh token dies with the rotation.
		delete(a.sessions, body.RefreshToken)
	}
	a.mu.Unlock()

	if !known {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "unknown refresh token"})
		return
	}

	writeJSON(w, http.StatusOK, a.grant(testUsername))
}

func (a *chessAPI) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *chessAPI) handlePuzzle(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "token invalid or expired"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"puzzle_id": "daily-001", "rating": 1850})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// engine is a fully wired session engine pointed at the fake API.
type engine struct {
	tokens      *tokenstore.Store
	coordinator *refresh.Coordinator
	service     *authclient.Service
	authLog     *authlog.Logger
	transport   *authclient.HTTPTransport
}

func newEngine(t *testing.T, api *chessAPI, kv tokenstore.KV) *engine {
	t.Helper()
	if kv == nil {
		kv = memory.New()
	}

	tokens := tokenstore.New(kv, nil)
	log := authlog.New(tokens, nil)
	transport := authclient.NewHTTPTransport(api.server.URL)
	coordinator := refresh.New(tokens, transport, log)
	svc := authclient.NewService(tokens, coordinator, transport, log, nil)

	return &engine{
		tokens:      tokens,
		coordinator: coordinator,
		service:     svc,
		authLog:     log,
		transport:   transport,
	}
}
