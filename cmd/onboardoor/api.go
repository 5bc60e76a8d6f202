package main

import (
	"fmt"

	"github.com/ethpandaops/onboardoor/pkg/api"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the onboardoor HTTP API that exposes the onboarding operations as JSON endpoints.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	ctx := cmd.Context()

	svc, cfg, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	srv := api.NewServer(log, cfg, svc)

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
