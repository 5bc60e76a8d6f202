package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/onboard"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/spf13/cobra"
)

// loadConfig loads and validates the config files given with --config.
// Without any, defaults and ONBOARDOOR_* environment variables apply.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// openService loads the config, starts the state store and returns the
// service plus a function that stops the store.
func openService(ctx context.Context) (*onboard.Service, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	store := state.NewStore(log, &cfg.Database)
	if err := store.Start(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("starting state store: %w", err)
	}

	closeFn := func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop state store")
		}
	}

	cat := catalog.New(cfg.Catalog.UsersFile, cfg.Catalog.GroupsFile)

	return onboard.New(log, cfg, store, cat), cfg, closeFn, nil
}

// addEnvFlags registers the environment and group id selection flags.
func addEnvFlags(cmd *cobra.Command, env *string, ids *[]string) {
	cmd.Flags().StringVarP(env, "env", "e", "",
		"target environment ("+environmentNames()+")")
	cmd.Flags().StringSliceVarP(ids, "group-ids", "g", nil,
		"only these user/group ids (default: all)")

	_ = cmd.MarkFlagRequired("env")
}

func environmentNames() string {
	envs := config.Environments()
	names := make([]string, 0, len(envs))

	for _, e := range envs {
		names = append(names, string(e))
	}

	return strings.Join(names, ", ")
}

// confirm asks a yes/no question on stdin.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)

	reader := bufio.NewReader(os.Stdin)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))

	return response == "y" || response == "yes"
}
