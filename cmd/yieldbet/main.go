// Command yieldbet runs the settlement pool engine in server, keeper, full
// or dev mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/yieldbet/internal/app"
	"github.com/alanyoungcy/yieldbet/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a TOML config file; empty uses defaults and env")
	flag.Parse()

	logger := newLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return 1
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("yieldbet starting",
		slog.String("mode", cfg.Mode),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	err = application.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("yieldbet stopped")
		return 0
	default:
		logger.Error("yieldbet exited", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
