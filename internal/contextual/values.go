package contextual

import (
	"context"

	"github.com/sedlock/sedlock/internal/config"
	"github.com/sedlock/sedlock/internal/system"
)

type key int

const (
	// systemKey is used to set and retrieve context held values for System.
	systemKey key = iota
	// configKey is used to set and retrieve context held values for Config.
	configKey
)

// WithSystem extends the context to provide a System.
func WithSystem(ctx context.Context, sys *system.System) context.Context {
	return context.WithValue(ctx, systemKey, sys)
}

// System fetches the host System provided in ctx.
func System(ctx context.Context) *system.System {
	if val := ctx.Value(systemKey); val != nil {
		if v, ok := val.(*system.System); ok {
			return v
		}
		panic("incoherent context")
	}

	return nil
}

// WithConfig extends the context to provide the loaded Config.
func WithConfig(ctx context.Context, c *config.Config) context.Context {
	return context.WithValue(ctx, configKey, c)
}

// Config fetches the Config provided in ctx.
func Config(ctx context.Context) *config.Config {
	if val := ctx.Value(configKey); val != nil {
		if v, ok := val.(*config.Config); ok {
			return v
		}
		panic("incoherent context")
	}

	return nil
}
