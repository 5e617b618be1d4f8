package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coderelay/coderelay/internal/approval"
	"github.com/coderelay/coderelay/internal/attachment"
	"github.com/coderelay/coderelay/internal/config"
	"github.com/coderelay/coderelay/internal/engine"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/internal/server"
	"github.com/coderelay/coderelay/internal/session"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveEngine   string
)

// staleAttachmentAge is how long leftover attachment directories from
// crashed runs survive before the startup sweep removes them.
const staleAttachmentAge = 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CodeRelay server",
	Long: `Start CodeRelay as an HTTP server.

Clients start engine sessions over the API and receive streamed
output, permission requests, and usage reports over SSE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().StringVar(&serveEngine, "engine", "claude", "Engine executable")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHostname != "" {
		cfg.Hostname = serveHostname
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logging.Init(logging.Config{Level: cfg.LogLevel})
	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Msg("starting coderelay")

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()

	attachments := attachment.NewStore()
	if err := attachments.SweepStale(workDir, staleAttachmentAge); err != nil {
		logging.Warn().Err(err).Msg("stale attachment sweep failed")
	}

	coordinator := session.NewCoordinator(
		engine.NewCLIEngine(serveEngine),
		session.NewRegistry(),
		approval.NewBroker(),
		attachments,
		session.Limits{
			ApprovalTimeout: cfg.ApprovalTimeout(),
			TokenBudget:     cfg.TokenBudget,
		},
		cfg.Model,
	)

	// Hot-reload tuning knobs from the project config file.
	watcher, err := config.NewWatcher(workDir, func(updated *config.Config) {
		coordinator.SetLimits(session.Limits{
			ApprovalTimeout: updated.ApprovalTimeout(),
			TokenBudget:     updated.TokenBudget,
		})
	})
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.Port
	serverConfig.Hostname = cfg.Hostname
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, coordinator, bus)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("hostname", cfg.Hostname).
			Int("port", cfg.Port).
			Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
