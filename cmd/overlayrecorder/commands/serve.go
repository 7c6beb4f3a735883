package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/OverlayRecorder/internal/api"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OverlayRecorder bridge",
	Long: `Start the OverlayRecorder HTTP bridge.

Host applications prepare, start and stop recordings through the REST API
and receive RECORDING_* events over the /api/events WebSocket. The control
panel, touch markers and drawing layer are shown while a session runs.`,
	Example: `  # Start bridge on default port (8080)
  overlayrecorder serve

  # Start bridge on custom port
  overlayrecorder serve --port 9090

  # Start with specific config file
  overlayrecorder serve --config /path/to/config.yaml

  # Start with debug logging
  overlayrecorder serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("main")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(a.ctrl, a.events)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort, cfg.Bridge.Advertise)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Str("backend", a.router.Backend()).
		Str("output_dir", cfg.OutputDir).
		Msgf("OverlayRecorder is running at http://localhost:%d/api", cfg.ServerPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := a.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Shutdown finished with errors")
	}
	return runErr
}
