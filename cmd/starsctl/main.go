// Package main is the entry point for starsctl, the operator CLI of the star sync service.
package main

import (
	"log/slog"
	"os"

	"github-star-sync/cmd/starsctl/app"
)

func main() {
	// Logs go to stderr so stdout only carries command output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := app.NewRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
