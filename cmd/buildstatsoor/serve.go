package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/buildstatsoor/pkg/api"
	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
	"github.com/ethpandaops/buildstatsoor/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only table API server",
	Long:  `Serve the report tables as JSON and CSV, plus prometheus metrics.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	store, err := sheet.NewStore(log, &cfg.Store)
	if err != nil {
		return fmt.Errorf("creating table store: %w", err)
	}

	// Set up context with signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(log, &cfg.API, store, telemetry.New())

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
