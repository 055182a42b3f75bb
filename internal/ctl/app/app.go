// Package app wires the session engine into the chessauthctl command-line
// tool: config from env, a durable token store, and the login/status/
// refresh/logout subcommands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/chesspath/chessauth/pkg/authclient"
	"github.com/chesspath/chessauth/pkg/authlog"
	"github.com/chesspath/chessauth/pkg/refresh"
	"github.com/chesspath/chessauth/pkg/slogx"
	"github.com/chesspath/chessauth/pkg/tokenstore"
	"github.com/chesspath/chessauth/pkg/tokenstore/drivers/memory"
	"github.com/chesspath/chessauth/pkg/tokenstore/drivers/redis"
	"github.com/chesspath/chessauth/pkg/tokenstore/drivers/sqlite"
	"golang.org/x/time/rate"
)

// BuildVersion is stamped by the release build.
var BuildVersion = "dev"

// Application holds the wired session engine for one CLI invocation.
type Application struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	tokens      *tokenstore.Store
	coordinator *refresh.Coordinator
	service     *authclient.Service
	authLog     *authlog.Logger

	closeStore func() error
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		out: os.Stdout,
		logger: slogx.New(slogx.Config{
			Service: "chessauthctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	kv, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	app.closeStore = closeStore

	app.tokens = tokenstore.New(kv, app.logger)
	app.authLog = authlog.New(app.tokens, app.logger)

	transportOpts := []authclient.TransportOption{
		authclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	}
	if cfg.RateLimit > 0 {
		transportOpts = append(transportOpts,
			authclient.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateLimit))
	}
	transport := authclient.NewHTTPTransport(cfg.APIBaseURL, transportOpts...)

	app.coordinator = refresh.New(app.tokens, transport, app.authLog)
	app.service = authclient.NewService(app.tokens, app.coordinator, transport, app.authLog, nil)

	return app, nil
}

func openStore(cfg Config) (tokenstore.KV, func() error, error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		kv, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case "redis":
		kv, err := redis.New(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// Close releases the store backend.
func (app *Application) Close() {
	if app.closeStore != nil {
		if err := app.closeStore(); err != nil {
			app.logger.Warn("failed to close token store", "error", err)
		}
	}
}

// Run dispatches a subcommand.
func (app *Application) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return app.usage()
	}

	switch args[0] {
	case "login":
		return app.cmdLogin(ctx, args[1:])
	case "status":
		return app.cmdStatus(ctx)
	case "refresh":
		return app.cmdRefresh(ctx)
	case "logout":
		return app.cmdLogout(ctx)
	case "help", "-h", "--help":
		return app.usage()
	default:
		_ = app.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (app *Application) usage() error {
	fmt.Fprintf(app.out, `chessauthctl %s - session tool for the chess platform API

Usage:
  chessauthctl login -u <username> -p <password>
  chessauthctl status
  chessauthctl refresh
  chessauthctl logout

Configuration via environment: CHESSAUTH_API_URL, CHESSAUTH_STORE
(memory|sqlite|redis), CHESSAUTH_DB_FILE, CHESSAUTH_REDIS_URL,
CHESSAUTH_TIMEOUT, LOG_LEVEL, LOG_FORMAT.
`, BuildVersion)
	return nil
}
