package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cocinero/cocinero/cmd/cocinero/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()

	code := commands.ExitCode(err)
	switch {
	case code == commands.ExitCancelled:
		log.Warn().Err(err).Msg("Interrupted")
	case err != nil:
		log.Error().Err(err).Msg("Command execution failed")
	}
	os.Exit(code)
}

// setupLogging configures the logger used outside of a command run.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv(commands.EnvLogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
