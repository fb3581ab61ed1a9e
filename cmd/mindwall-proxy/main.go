package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
	"github.com/mindwall/mindwall/internal/di"
	"github.com/mindwall/mindwall/internal/imap"
	"github.com/mindwall/mindwall/internal/smtp"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	proxy *imap.Server,
	monitor *smtp.Monitor,
	pipeline *core.Pipeline,
	store core.Store,
	sink core.AlertSink,
	scoring core.ScoringClient,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.GetBool("smtp.enabled") {
		if err := monitor.Start(); err != nil {
			logger.Fatal("Failed to start SMTP monitor", zap.Error(err))
			return err
		}
	}

	proxyErr := make(chan error, 1)
	go func() {
		proxyErr <- proxy.ListenAndServe(ctx)
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down...", zap.String("signal", sig.String()))
		cancel()
		<-proxyErr
	case err := <-proxyErr:
		if err != nil {
			logger.Error("Proxy stopped", zap.Error(err))
		}
		cancel()
	}

	if cfg.GetBool("smtp.enabled") {
		if err := monitor.Stop(); err != nil {
			logger.Error("Failed to stop SMTP monitor", zap.Error(err))
		}
	}

	// drain queued persistence and baseline work before closing resources
	pipeline.Wait()

	if closer, ok := scoring.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close scoring client", zap.Error(err))
		}
	}
	if closer, ok := sink.(interface{ Close() }); ok {
		closer.Close()
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
