package authclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chesspath/chessauth/pkg/authclient"
	"github.com/chesspath/chessauth/pkg/refresh"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLoginRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, authclient.EndpointLogin, r.URL.Path)

		var creds authclient.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, "magnus", creds.Username)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "t1",
			"refresh_token": "r1",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"session_id":    "s1",
			"user":          map[string]any{"username": "magnus"},
		})
	}))
	t.Cleanup(srv.Close)

	transport := authclient.NewHTTPTransport(srv.URL)
	resp, err := transport.Login(context.Background(), authclient.Credentials{
		Username: "magnus", Password: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "t1", resp.AccessToken)
	require.Equal(t, "r1", resp.RefreshToken)
	require.Equal(t, 3600, resp.ExpiresIn)
	require.Equal(t, "s1", resp.SessionID)
}

func TestErrorProcessing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, authclient.CodeValidation},
		{http.StatusUnauthorized, authclient.CodeUnauthorized},
		{http.StatusForbidden, authclient.CodeForbidden},
		{http.StatusNotFound, authclient.CodeNotFound},
		{http.StatusConflict, authclient.CodeConflict},
		{http.StatusTooManyRequests, authclient.CodeRateLimited},
		{http.StatusInternalServerError, authclient.CodeServerError},
		{http.StatusBadGateway, authclient.CodeServerError},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "nope"})
		}))

		transport := authclient.NewHTTPTransport(srv.URL)
		_, err := transport.Login(context.Background(), authclient.Credentials{})
		srv.Close()

		apiErr, ok := authclient.AsAPIError(err)
		require.True(t, ok, "status %d", tc.status)
		require.Equal(t, tc.code, apiErr.Code)
		require.Equal(t, tc.status, apiErr.Status)
		require.Equal(t, "nope", apiErr.Message)
		require.Equal(t, authclient.EndpointLogin, apiErr.Endpoint)
	}
}

func TestNetworkErrorHasNoStatus(t *testing.T) {
	t.Parallel()

	// Nothing listens here.
	transport := authclient.NewHTTPTransport("http://127.0.0.1:1")
	_, err := transport.Login(context.Background(), authclient.Credentials{})

	apiErr, ok := authclient.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, authclient.CodeNetworkError, apiErr.Code)
	require.Zero(t, apiErr.Status)
}

func TestRateLimiterGatesRequests(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeLoginJSON(w)
	}))
	t.Cleanup(srv.Close)

	// Burst of one, next token an hour out: the second request must wait.
	transport := authclient.NewHTTPTransport(srv.URL,
		authclient.WithRateLimit(rate.Every(time.Hour), 1))

	_, err := transport.Login(context.Background(), authclient.Credentials{})
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = transport.Login(ctx, authclient.Credentials{})

	apiErr, ok := authclient.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, authclient.CodeNetworkError, apiErr.Code)
	// The limiter rejected the request before it ever left.
	require.Equal(t, int32(1), hits.Load())
}

func TestRateLimiterAdmitsWithinBurst(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeLoginJSON(w)
	}))
	t.Cleanup(srv.Close)

	transport := authclient.NewHTTPTransport(srv.URL,
		authclient.WithRateLimit(rate.Every(time.Hour), 3))

	for range 3 {
		_, err := transport.Login(context.Background(), authclient.Credentials{})
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), hits.Load())
}

func writeLoginJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "t", "refresh_token": "r", "expires_in": 3600,
	})
}

func TestReplaySendsRequestAsGiven(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/progress/opening-1", r.URL.Path)
		require.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"saved":true}`))
	}))
	t.Cleanup(srv.Close)

	transport := authclient.NewHTTPTransport(srv.URL)
	resp, err := transport.Replay(context.Background(), &refresh.Request{
		Method: http.MethodPut,
		URL:    "/progress/opening-1",
		Body:   []byte(`{"completed":true}`),
		Headers: map[string]string{
			"Authorization": "Bearer fresh-token",
			"Content-Type":  "application/json",
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"saved":true}`, string(resp.Body))
}

func TestReplayNon2xxIsProcessedError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	transport := authclient.NewHTTPTransport(srv.URL)
	_, err := transport.Replay(context.Background(), &refresh.Request{
		Method: http.MethodGet,
		URL:    "/puzzles/daily",
	})

	apiErr, ok := authclient.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, authclient.CodeUnauthorized, apiErr.Code)
	require.Equal(t, "/puzzles/daily", apiErr.Endpoint)
}
