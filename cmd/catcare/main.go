package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"catcare.com/client/logger"
	"github.com/joho/godotenv"
)

func main() {
	logger.SetupLogging()
	mainLogger := logger.NewLogger("Main")

	// a local .env fills in CATCARE_* variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		mainLogger.Warn().Err(err).Msg("Could not read .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		mainLogger.Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}
