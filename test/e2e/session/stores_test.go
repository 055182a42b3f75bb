package session_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/chesspath/chessauth/pkg/authclient"
	"github.com/chesspath/chessauth/pkg/tokenstore"
	"github.com/chesspath/chessauth/pkg/tokenstore/drivers/redis"
	"github.com/chesspath/chessauth/pkg/tokenstore/drivers/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newSQLiteKV(t *testing.T) tokenstore.KV {
	t.Helper()
	kv, err := sqlite.New(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

// setupRedisContainer starts a throwaway redis and returns its URL. Skips
// when no container runtime is available.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForListeningPort("6379/tcp").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, mappedPort.Port())
}

// TestRedisBackedSession runs the login/refresh/logout cycle over a real
// redis token store.
func TestRedisBackedSession(t *testing.T) {
	ctx := context.Background()

	redisURL := setupRedisContainer(t)
	kv, err := redis.New(ctx, redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	api := newChessAPI(t)
	eng := newEngine(t, api, kv)

	_, err = eng.service.Login(ctx, authclient.Credentials{
		Username: testUsername, Password: testPassword,
	})
	require.NoError(t, err)
	require.True(t, eng.service.IsAuthenticated(ctx))

	require.True(t, eng.coordinator.RefreshToken(ctx))

	// A second engine over the same redis sees the refreshed session.
	other := newEngine(t, api, kv)
	require.True(t, other.service.IsAuthenticated(ctx))
	require.Equal(t, eng.tokens.SessionID(ctx), other.tokens.SessionID(ctx))

	eng.service.Logout(ctx)
	require.False(t, other.service.IsAuthenticated(ctx))
}
