package main

import (
	"context"

	"github.com/spf13/cobra"

	logginginfra "github.com/zerverhq/zerver/internal/infrastructure/logging"
	"github.com/zerverhq/zerver/internal/ports"
)

// AppContext bundles the logger created at startup, generalized from the
// teacher's fixed set of use cases to whatever subcommand needs a
// component-scoped logger before a Runtime exists (config loading mainly
// happens before a Runtime is built).
type AppContext struct {
	Logger ports.Logger
}

// CommandContext returns the command's context (falling back to Background)
// together with a component-scoped logger.
func (a *AppContext) CommandContext(cmd *cobra.Command, component string) (context.Context, ports.Logger) {
	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}
	return ctx, a.LoggerFor(component)
}

// LoggerFor derives a child logger scoped to component. A nil or
// zero-value AppContext (as constructed in tests) gets a logger that
// discards everything rather than forcing every call site to nil-check.
func (a *AppContext) LoggerFor(component string) ports.Logger {
	if a == nil || a.Logger == nil {
		return logginginfra.NewNoOpLogger().With("component", component)
	}
	return a.Logger.With("component", component)
}
