package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"fridge-tetris/internal/config"
)

// setupLogger picks the level from env. A terminal gets text output, anything
// else (containers, log shippers) gets JSON.
func setupLogger(env string, w *os.File) *slog.Logger {
	level := slog.LevelInfo
	switch env {
	case config.EnvLocal, config.EnvDev:
		level = slog.LevelDebug
	case config.EnvProd:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
