// Package commands implements the detectnumber subcommands.
package commands

import (
	"context"
	"log/slog"

	"github.com/born-ml/detectnumber/internal/config"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Loaded
	Logger *slog.Logger
}

type commandContextKey struct{}

// WithContext stores cc in ctx.
func WithContext(ctx context.Context, cc *CommandContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, commandContextKey{}, cc)
}

// FromContext returns the CommandContext stored by the root command, or
// defaults with a discarding logger when none is present.
func FromContext(ctx context.Context) *CommandContext {
	if ctx != nil {
		if cc, ok := ctx.Value(commandContextKey{}).(*CommandContext); ok {
			return cc
		}
	}
	return &CommandContext{
		Cfg:    &config.Loaded{Config: config.Default()},
		Logger: slog.New(slog.DiscardHandler),
	}
}
