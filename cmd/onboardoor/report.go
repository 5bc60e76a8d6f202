package main

import (
	"fmt"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/report"
	"github.com/spf13/cobra"
)

var (
	reportEnvs []string
	reportDir  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Publish status snapshots to a directory and/or S3",
	Long: `Build a JSON status snapshot per environment and write it to the
configured report destinations (report.dir and report.s3). Each snapshot is
stored under <env>/status-<timestamp>.json and <env>/latest.json.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringSliceVarP(&reportEnvs, "env", "e", nil,
		"environments to report (default: all)")
	reportCmd.Flags().StringVar(&reportDir, "dir", "", "override report.dir")

	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	envs := config.Environments()

	if len(reportEnvs) > 0 {
		envs = nil

		for _, name := range reportEnvs {
			env, err := config.ParseEnvironment(name)
			if err != nil {
				return err
			}

			envs = append(envs, env)
		}
	}

	svc, cfg, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	if reportDir != "" {
		cfg.Report.Dir = reportDir
	}

	publisher, err := report.NewPublisher(log, &cfg.Report)
	if err != nil {
		return err
	}

	now := time.Now()
	snapshots := make([]*report.Snapshot, 0, len(envs))

	for _, env := range envs {
		statuses, err := svc.Status(cmd.Context(), env)
		if err != nil {
			return fmt.Errorf("status of %s: %w", env, err)
		}

		snapshots = append(snapshots, report.Build(env, statuses, now))
	}

	locations, err := publisher.Publish(cmd.Context(), snapshots...)
	if err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}

	section(cmd.OutOrStdout(), "Written", green, locations)

	return nil
}
