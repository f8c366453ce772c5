package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rapidmedia/config"
	"rapidmedia/httpServer"
	"rapidmedia/internal/events"
	"rapidmedia/internal/logging"
	"rapidmedia/internal/metrics"
	"rapidmedia/internal/process"
	"rapidmedia/internal/session"
	"rapidmedia/internal/storage"
	"rapidmedia/internal/transcoder"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server.

The server provides:
- Session API under /api/v1/sessions
- HLS playlists and chunks under /live/:key/
- Prometheus metrics at /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.WithComponent("main")

	for _, bin := range []string{cfg.TranscoderPath, cfg.SegmenterPath} {
		version, err := transcoder.CheckAvailable(bin, logger)
		if err != nil {
			logger.Warn().Err(err).Str("path", bin).Msg("external program check failed, sessions will fail to start")
			continue
		}
		logger.Info().Str("path", bin).Str("version", version).Msg("external program available")
	}

	store, err := storage.NewLocalStorage(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	logger.Info().Str("dir", store.BaseDir()).Msg("storage initialized")

	m := metrics.New()
	broker := events.NewBroker()
	manager := session.NewManager(cfg.SessionConfig(), store,
		session.WithMetrics(m),
		session.WithListeners(broker.ListenerFor),
		session.WithStopHook(broker.Close),
	)

	srv, err := httpServer.New(cfg.HTTPAddr, manager, broker, store, m, cfg.MediaDir)
	if err != nil {
		manager.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("http shutdown incomplete")
	}
	broker.CloseAll()
	manager.Close()
	if n := process.DestroyAll(); n > 0 {
		logger.Warn().Int("processes", n).Msg("destroyed leftover child processes")
	}
	logger.Info().Msg("shutdown complete")
	return err
}
