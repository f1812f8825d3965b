package config

import (
	"errors"
	"fmt"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
)

// builder collects configuration layers from highest to lowest precedence.
type builder struct {
	layers []Config
	err    error
}

func newBuilder() *builder {
	return &builder{layers: make([]Config, 0, 4)}
}

func (b *builder) with(c Config) *builder {
	b.layers = append(b.layers, c)
	return b
}

func (b *builder) withEnv(opts env.Options) *builder {
	c, err := fromEnv(opts)
	if err != nil {
		b.err = errors.Join(b.err, err)
		return b
	}
	return b.with(c)
}

func (b *builder) withFile(path string) *builder {
	if path == "" {
		return b
	}
	c, err := fromFile(path)
	if err != nil {
		b.err = errors.Join(b.err, err)
		return b
	}
	return b.with(c)
}

// build fills the unset fields of each layer from the layers below it.
func (b *builder) build() (*Config, error) {
	if b.err != nil {
		return nil, fmt.Errorf("loading config: %w", b.err)
	}

	c := new(Config)
	for _, layer := range b.layers {
		layer := layer
		if err := mergo.Merge(c, &layer); err != nil {
			return nil, fmt.Errorf("merging config: %w", err)
		}
	}

	return c, c.Validate()
}
