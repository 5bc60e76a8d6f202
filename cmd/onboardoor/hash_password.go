package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash for api.auth.basic.users",
	Long: `Read a password from stdin and print its bcrypt hash, suitable for the
password_hash field of an API basic auth user.`,
	Args: cobra.NoArgs,
	RunE: runHashPassword,
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	fmt.Fprint(os.Stderr, "Password: ")

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(hash))

	return nil
}
