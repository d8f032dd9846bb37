package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"encapsia.io/cli/internal/interfaces/cli"
	"encapsia.io/cli/internal/interfaces/di"
)

func main() {
	container := di.NewContainer()

	// Cancelling stops the running batch; remaining items are reported as failed
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx, container.GetCLIContainer())
}
