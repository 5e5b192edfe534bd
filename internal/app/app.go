// Package app wires the target's components and runs them.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/sync/orchestrator"
)

// TargetApp encapsulates all components needed for one run of the target
type TargetApp struct {
	config     *config.Config
	instance   string
	components *AppComponents
}

// Run consumes the Singer messages of in and syncs them to OIC. A TargetApp
// runs once.
func (app *TargetApp) Run(ctx context.Context, in io.Reader) (*orchestrator.RunResult, error) {
	return app.components.Orchestrator.Run(ctx, in)
}

// Check verifies the credentials by obtaining a token
func (app *TargetApp) Check(ctx context.Context) error {
	tok, err := app.components.Authenticator.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain a token from %s: %w", app.config.OAuthTokenURL, err)
	}
	slog.Info("Obtained access token",
		"instance", app.instance,
		"token_type", tok.TokenType,
		"expires_at", tok.ExpiresAt)
	return nil
}

// GetConfig returns the application configuration
func (app *TargetApp) GetConfig() *config.Config {
	return app.config
}

// Instance returns the OIC host the app syncs to
func (app *TargetApp) Instance() string {
	return app.instance
}

// Components returns the wired components
func (app *TargetApp) Components() *AppComponents {
	return app.components
}
