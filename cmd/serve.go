package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Jellyfetch pipeline and status API",
	Long:  `Start the scheduler that moves items through the pipeline, together with the status API.`,
	Example: `jellyfetch serve --config config.yml
jellyfetch serve -c /path/to/config.yml --log-level debug
`,
	RunE: startServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func startServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	server, err := api.New(cfg, a.engine, a.db, a.limiter, a.cache)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	log.Info("jellyfetch started successfully", "version", Version)
	err = g.Wait()
	log.Info("shutting down gracefully...")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
