package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/savaki/authsession/cmd/authsession/commands"
	"github.com/savaki/authsession/internal/di"
)

func main() {
	logger := di.ProvideLogger()
	ctx, stop := signal.NotifyContext(logger.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := commands.NewApp(&logger)
	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		stop()
		os.Exit(1)
	}
}
