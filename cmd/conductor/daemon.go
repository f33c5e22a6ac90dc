package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/conductor/internal/controlplane"
	"github.com/fentz26/conductor/internal/logging"
	"github.com/fentz26/conductor/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Conductor daemon",
	Long: `Starts the Conductor daemon which serves the HTTP API. Workflows left
RUNNING by a previous process are resumed in the background.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := orchestrator.Build(ctx, cfg.RuntimeOptions(logger))
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing runtime")
		if err := rt.Close(); err != nil {
			logger.Error("runtime close error", zap.Error(err))
		}
	}()

	pinger, _ := rt.Store.(controlplane.Pinger)
	server := controlplane.NewServer(rt.Orchestrator, pinger, cfg.Listen, logger.Named("http"))

	resumed := make(chan struct{})
	go func() {
		defer close(resumed)
		list, err := rt.Orchestrator.Resume(ctx)
		if err != nil {
			logger.Error("resume failed", zap.Error(err))
			return
		}
		if len(list) > 0 {
			logger.Info("resumed interrupted workflows", zap.Int("count", len(list)))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	// Abort running batches without checkpointing them. Their workflows stay
	// RUNNING and the interrupted batches are dispatched again on the next
	// start.
	cancel()
	rt.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	select {
	case <-resumed:
	case <-shutdownCtx.Done():
		logger.Warn("resumed workflows did not stop before the shutdown deadline")
	}

	logger.Info("shutdown complete")
	return nil
}
