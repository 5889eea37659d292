package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sboxrun/sandboxd/internal/api"
	"github.com/sboxrun/sandboxd/internal/blockingpool"
	"github.com/sboxrun/sandboxd/internal/config"
	"github.com/sboxrun/sandboxd/internal/log"
	"github.com/sboxrun/sandboxd/internal/proxy"
	"github.com/sboxrun/sandboxd/internal/sandbox"
	"github.com/sboxrun/sandboxd/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandboxd daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv("SANDBOXD_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := log.Init(log.Options{
		Verbose:    verbose,
		JSONFormat: cfg.Log.Level != "",
		DebugDir:   cfg.Log.Dir,
	}); err != nil {
		cmd.PrintErrf("warning: failed to initialize logging: %v\n", err)
	}
	defer log.Close()

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}

	registry := session.NewRegistry(cfg.PortBase, cfg.PreviewDomain)
	pool := blockingpool.New(0)
	apiServer := api.NewServer(registry, pool, cfg.BaseDir, cfg.Defaults)

	previewProxy := proxy.New(registry, cfg.PreviewDomain, apiServer.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           previewProxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	reaper := session.NewReaper(registry, sandbox.Destroyer{}, pool,
		time.Duration(cfg.SessionTTL), time.Duration(cfg.ReapInterval))

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()
	go reaper.Run(reaperCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("sandboxd listening", "addr", cfg.Listen, "base_dir", cfg.BaseDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("sandboxd shutting down")
	}

	reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
