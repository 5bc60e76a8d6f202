package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/report"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/spf13/cobra"
)

var (
	statusEnv     string
	statusJSON    bool
	historyEnv    string
	historyUser   string
	historyRun    string
	historyLimit  int
	listGroupsRaw bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show onboarding progress per user",
	RunE:  runStatus,
}

var listGroupsCmd = &cobra.Command{
	Use:   "list-groups",
	Short: "List group definitions from the groups catalog",
	RunE:  runListGroups,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the operation log, newest first",
	RunE:  runHistory,
}

func init() {
	statusCmd.Flags().StringVarP(&statusEnv, "env", "e", "",
		"target environment ("+environmentNames()+")")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status snapshot as JSON")
	_ = statusCmd.MarkFlagRequired("env")

	listGroupsCmd.Flags().BoolVar(&listGroupsRaw, "json", false, "print the catalog as JSON")

	historyCmd.Flags().StringVarP(&historyEnv, "env", "e", "",
		"filter by environment ("+environmentNames()+")")
	historyCmd.Flags().StringVar(&historyUser, "user", "", "filter by user id")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "filter by run id")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum entries")

	rootCmd.AddCommand(statusCmd, listGroupsCmd, historyCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	env, err := config.ParseEnvironment(statusEnv)
	if err != nil {
		return err
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	statuses, err := svc.Status(cmd.Context(), env)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	snap := report.Build(env, statuses, time.Now())

	if statusJSON {
		return printJSON(snap)
	}

	renderStatus(os.Stdout, snap)

	return nil
}

func runListGroups(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	groups, err := catalog.New(cfg.Catalog.UsersFile, cfg.Catalog.GroupsFile).Groups()
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}

	if listGroupsRaw {
		return printJSON(groups)
	}

	renderGroups(os.Stdout, groups)

	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	filter := state.OperationFilter{
		UserID: historyUser,
		RunID:  historyRun,
		Limit:  historyLimit,
	}

	if historyEnv != "" {
		env, err := config.ParseEnvironment(historyEnv)
		if err != nil {
			return err
		}

		filter.Environment = env
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := svc.Operations(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	renderOperations(os.Stdout, entries)

	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
