package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sedlock/sedlock/internal/cmd"
	"github.com/sedlock/sedlock/internal/contextual"
	"github.com/sedlock/sedlock/internal/system"
)

func main() {
	sys, err := system.Scan()
	if err != nil {
		panic(fmt.Errorf("cannot identify system: %w", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx = contextual.WithSystem(ctx, sys)

	err = cmd.MainCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
