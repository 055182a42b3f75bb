package app

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/chesspath/chessauth/pkg/authclient"
)

func (app *Application) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("login requires -u <username> and -p <password>")
	}

	resp, err := app.service.Login(ctx, authclient.Credentials{
		Username: *username,
		Password: *password,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(app.out, "logged in as %s\n", *username)
	fmt.Fprintf(app.out, "session:    %s\n", resp.SessionID)
	fmt.Fprintf(app.out, "expires in: %ds\n", resp.ExpiresIn)
	return nil
}

func (app *Application) cmdStatus(ctx context.Context) error {
	if !app.service.IsAuthenticated(ctx) {
		if app.tokens.IsSessionExpired(ctx) {
			fmt.Fprintln(app.out, "session expired, log in again")
		} else if app.service.NeedsTokenRefresh(ctx) {
			fmt.Fprintln(app.out, "token expired, run `chessauthctl refresh`")
		} else {
			fmt.Fprintln(app.out, "not logged in")
		}
		return nil
	}

	fmt.Fprintln(app.out, "authenticated")
	fmt.Fprintf(app.out, "session:   %s\n", app.tokens.SessionID(ctx))
	fmt.Fprintf(app.out, "expires:   %s\n", app.tokens.TimeUntilExpiry(ctx).Round(time.Second))
	if app.tokens.WillExpireSoon(ctx, 0) {
		fmt.Fprintln(app.out, "note:      token expires soon")
	}
	if app.coordinator.IsCircuitBreakerActive() {
		fmt.Fprintln(app.out, "note:      refresh circuit breaker active")
	}
	return nil
}

func (app *Application) cmdRefresh(ctx context.Context) error {
	if !app.coordinator.CanAttemptRefresh(ctx) {
		return fmt.Errorf("refresh not possible: no refresh token or circuit breaker active")
	}

	if !app.coordinator.RefreshToken(ctx) {
		stats := app.authLog.RefreshStats()
		for _, entry := range stats.LastFailures {
			if reason, ok := entry.Details["reason"]; ok {
				return fmt.Errorf("refresh failed: %v", reason)
			}
		}
		return fmt.Errorf("refresh failed")
	}

	fmt.Fprintf(app.out, "token refreshed, expires in %s\n",
		app.tokens.TimeUntilExpiry(ctx).Round(time.Second))
	return nil
}

func (app *Application) cmdLogout(ctx context.Context) error {
	app.service.Logout(ctx)

	if h := app.authLog.Health(); !h.IsHealthy {
		app.logger.Warn("session was unhealthy before logout",
			"recent_errors", h.RecentErrors,
			"breaker_activated", h.BreakerActivated)
	}

	fmt.Fprintln(app.out, "logged out")
	return nil
}
