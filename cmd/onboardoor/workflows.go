package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
	"github.com/spf13/cobra"
)

var (
	wfEnv         string
	wfGroupIDs    []string
	forceConfirm  bool
	cleanSources  bool
	cleanGroups   bool
	resetAllUsers bool
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Invite partner users to an environment",
	Long: `Send platform invitations to every selected user that has not been
invited to the environment yet. Users the platform already knows are recorded
as existing and never invited again.`,
	RunE: runInvite,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the group and source of each partner user",
	Long: `Create the partner group and its content source for every selected user
that has a usable credential. Completed users are skipped without calling the
platform, and a user whose group exists but source does not resumes at the
source step.`,
	RunE: runSetup,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete recorded groups and sources from the platform",
	Long: `Delete the sources and groups recorded for the selected users, source
first, and clear the matching state. Invitations are kept.`,
	RunE: runCleanup,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget recorded progress for an environment",
	Long: `Delete invitation, group and source records from the local state store.
Nothing is deleted on the platform. Without --group-ids the whole environment
is reset, which requires --all.`,
	RunE: runReset,
}

func init() {
	for _, cmd := range []*cobra.Command{inviteCmd, setupCmd, cleanupCmd, resetCmd} {
		addEnvFlags(cmd, &wfEnv, &wfGroupIDs)
		rootCmd.AddCommand(cmd)
	}

	cleanupCmd.Flags().BoolVar(&cleanSources, "sources-only", false, "delete sources only")
	cleanupCmd.Flags().BoolVar(&cleanGroups, "groups-only", false, "delete groups only")
	cleanupCmd.Flags().BoolVarP(&forceConfirm, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.MarkFlagsMutuallyExclusive("sources-only", "groups-only")

	resetCmd.Flags().BoolVar(&resetAllUsers, "all", false, "reset every user of the environment")
	resetCmd.Flags().BoolVarP(&forceConfirm, "force", "f", false, "Skip confirmation prompt")
}

func runInvite(cmd *cobra.Command, _ []string) error {
	env, err := config.ParseEnvironment(wfEnv)
	if err != nil {
		return err
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := svc.Invite(cmd.Context(), env, wfGroupIDs)
	if err != nil {
		return fmt.Errorf("invite: %w", err)
	}

	renderInvite(os.Stdout, result)

	return nil
}

func runSetup(cmd *cobra.Command, _ []string) error {
	env, err := config.ParseEnvironment(wfEnv)
	if err != nil {
		return err
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := svc.Setup(cmd.Context(), env, wfGroupIDs)
	if result != nil {
		renderSetup(os.Stdout, result)
	}

	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	if len(result.Failed) > 0 {
		return fmt.Errorf("setup finished with %d failed user(s)", len(result.Failed))
	}

	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	env, err := config.ParseEnvironment(wfEnv)
	if err != nil {
		return err
	}

	scope, err := workflow.ParseCleanupScope(cleanSources, cleanGroups)
	if err != nil {
		return err
	}

	if !forceConfirm && !confirm(fmt.Sprintf("Delete recorded platform resources in %s?", env)) {
		log.Info("Cleanup cancelled")

		return nil
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := svc.Cleanup(cmd.Context(), env, wfGroupIDs, scope)
	if result != nil {
		renderCleanup(os.Stdout, result)
	}

	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	if len(result.Failed) > 0 {
		return fmt.Errorf("cleanup finished with %d failed user(s)", len(result.Failed))
	}

	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	env, err := config.ParseEnvironment(wfEnv)
	if err != nil {
		return err
	}

	if len(wfGroupIDs) == 0 && !resetAllUsers {
		return fmt.Errorf("refusing to reset all of %s without --all (or pass --group-ids)", env)
	}

	if !forceConfirm && !confirm(fmt.Sprintf("Forget recorded progress in %s?", env)) {
		log.Info("Reset cancelled")

		return nil
	}

	svc, _, closeFn, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	reset, err := svc.Reset(cmd.Context(), env, wfGroupIDs)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	if reset == nil {
		fmt.Printf("%s all users in %s\n", green("Reset"), env)

		return nil
	}

	section(os.Stdout, "Reset", green, reset)

	return nil
}
