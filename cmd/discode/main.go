// Command discode runs the chat-platform ↔ coding-agent bridge: it hosts
// the hook HTTP server on loopback, connects the configured chat platform,
// and shuttles user messages into terminal windows or SDK runners.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dguik/discode/lib/config"
	"github.com/dguik/discode/pkg/server"
)

// version is stamped by the release build (-ldflags "-X main.version=…").
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "discode",
		Short:         "Bridge headless coding agents to Discord and Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	var verbose bool

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the hook bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, verbose)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "", "optional config file overlaying DISCODE_* environment variables")
	serve.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serve)
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(configPath string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	components, err := server.SetupPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing bridge: %w", err)
	}

	// Hooks are local helper programs; the listener stays on loopback.
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.HookPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           components.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hook server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("hook server failed: %w", err)
	case sig := <-stop:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("hook server shutdown failed", "error", err)
	}
	if err := components.GracefulShutdown(shutdownCtx, logger); err != nil {
		logger.Error("component shutdown failed", "error", err)
	}

	logger.Info("bye")
	return nil
}
