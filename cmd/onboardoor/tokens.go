package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/spf13/cobra"
)

var tokensEnv string

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage static user tokens in the credentials env file",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show which users have a token",
	Args:  cobra.NoArgs,
	RunE:  runTokensList,
}

var tokensSetCmd = &cobra.Command{
	Use:   "set <user-id|admin> [token]",
	Short: "Store a token; without a token the user is marked as skipped",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTokensSet,
}

var tokensDeleteCmd = &cobra.Command{
	Use:   "delete <user-id|admin>",
	Short: "Remove a stored token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokensDelete,
}

func init() {
	tokensCmd.PersistentFlags().StringVarP(&tokensEnv, "env", "e", "",
		"use the environment-specific file <env_file>.<env>")

	tokensCmd.AddCommand(tokensListCmd, tokensSetCmd, tokensDeleteCmd)
	rootCmd.AddCommand(tokensCmd)
}

func tokenFile() (*credentials.TokenFile, *catalog.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	path := cfg.Credentials.EnvFile
	if tokensEnv != "" {
		env, err := config.ParseEnvironment(tokensEnv)
		if err != nil {
			return nil, nil, err
		}

		path += "." + string(env)
	}

	return credentials.NewTokenFile(path),
		catalog.New(cfg.Catalog.UsersFile, cfg.Catalog.GroupsFile), nil
}

func runTokensList(_ *cobra.Command, _ []string) error {
	tf, cat, err := tokenFile()
	if err != nil {
		return err
	}

	users, err := cat.Users()
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}

	ids := make([]string, 0, len(users.Users))
	for _, u := range users.Users {
		ids = append(ids, u.ID)
	}

	statuses, err := tf.Statuses(ids)
	if err != nil {
		return fmt.Errorf("reading tokens: %w", err)
	}

	renderTokens(os.Stdout, statuses)

	return nil
}

func runTokensSet(cmd *cobra.Command, args []string) error {
	tf, _, err := tokenFile()
	if err != nil {
		return err
	}

	token := ""
	if len(args) == 2 {
		token = args[1]
	}

	if err := tf.Set(cmd.Context(), args[0], token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}

	log.WithField("user", args[0]).Info("Token stored")

	return nil
}

func runTokensDelete(cmd *cobra.Command, args []string) error {
	tf, _, err := tokenFile()
	if err != nil {
		return err
	}

	if err := tf.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}

	log.WithField("user", args[0]).Info("Token removed")

	return nil
}
