package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/p8labs/dockless/internal/api"
	"github.com/p8labs/dockless/internal/configwatch"
	"github.com/p8labs/dockless/internal/node"
	"github.com/spf13/cobra"
)

var apiAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the dockless daemon",
	Long:  "Start the service supervisor daemon. Loads the registry and manages every ready service's lifecycle.",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for the API (e.g. 127.0.0.1:9090)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	slog.Info("dockless daemon starting")

	n, err := node.New(slog.Default())
	if err != nil {
		return fmt.Errorf("bootstrapping node: %w", err)
	}

	socketPath := defaultSocketPath()

	// Refuse to start if another daemon already holds the socket.
	if conn, err := net.DialTimeout("unix", socketPath, 2*time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("another daemon is already running (socket %s is active)", socketPath)
	}
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	n.StartAll()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := configwatch.New(n.Config.DataDir, slog.Default()).Run(watchCtx); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	srv := api.NewServer(n, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	if apiAddr != "" {
		tokenPath := filepath.Join(filepath.Dir(socketPath), "api.token")
		if err := srv.GenerateToken(tokenPath); err != nil {
			return fmt.Errorf("generating API token: %w", err)
		}
		go func() {
			if err := srv.ListenTCP(apiAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("dockless daemon ready", "node_id", n.NodeID, "services", n.Manager.ServiceCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	n.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("API server shutdown error", "error", err)
	}

	os.Remove(socketPath)
	if apiAddr != "" {
		os.Remove(filepath.Join(filepath.Dir(socketPath), "api.token"))
	}

	slog.Info("dockless daemon stopped")
	return nil
}
