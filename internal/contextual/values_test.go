package contextual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sedlock/sedlock/internal/config"
	"github.com/sedlock/sedlock/internal/system"
)

func TestSystem(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, System(ctx))

	sys := system.New(system.Linux, nil, 0)
	assert.Same(t, sys, System(WithSystem(ctx, sys)))
}

func TestConfig(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Config(ctx))

	c := config.Defaults()
	got := Config(WithConfig(WithSystem(ctx, system.New(system.Linux, nil, 0)), &c))
	assert.Same(t, &c, got)
}

func TestIncoherentContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), systemKey, "linux")
	assert.Panics(t, func() { System(ctx) })
}
