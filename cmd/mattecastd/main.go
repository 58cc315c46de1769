package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/care/mattecast/internal/core"
)

const defaultConfigPath = "config/mattecast.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mattecast service",
		"config", *configPath,
		"debug", *debug,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := core.NewService(*configPath)
	if err != nil {
		slog.Error("failed to create mattecast service", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
	}

	if runErr != nil {
		slog.Error("pipeline error", "error", runErr)
	} else {
		slog.Info("pipeline finished")
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	if runErr != nil {
		os.Exit(1)
	}
	slog.Info("mattecast service stopped successfully")
}
