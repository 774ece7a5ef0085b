package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/firmcheck/internal/auth"
	"github.com/rsclarke/firmcheck/internal/db"
)

var apikeyFlags struct {
	dbPath string
	label  string
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys for the REST API",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <prefix>",
	Short: "Revoke an API key by its prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)

	apikeyCmd.PersistentFlags().StringVar(&apikeyFlags.dbPath, "db", "", "database path (default firmcheck.db, env FIRMCHECK_DB)")
	apikeyCreateCmd.Flags().StringVar(&apikeyFlags.label, "label", "", "label stored with the key")
}

func apikeyDBPath(cmd *cobra.Command) string {
	if cmd.Flags().Changed("db") {
		return apikeyFlags.dbPath
	}
	return cfg.Server.DBPath
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	database, err := db.Open(apikeyDBPath(cmd))
	if err != nil {
		return err
	}
	defer database.Close()

	key, err := auth.NewKey()
	if err != nil {
		return fmt.Errorf("generate API key: %w", err)
	}
	if _, err := db.CreateAPIKey(cmd.Context(), database, key.Prefix, key.Hash, apikeyFlags.label); err != nil {
		return fmt.Errorf("create API key: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), key.Display)
	fmt.Fprintf(cmd.ErrOrStderr(), "Created %s at %s (save it, it will not be shown again)\n",
		key.Prefix, time.Now().Format(time.RFC3339))
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	database, err := db.Open(apikeyDBPath(cmd))
	if err != nil {
		return err
	}
	defer database.Close()

	revoked, err := db.RevokeAPIKey(cmd.Context(), database, args[0])
	if err != nil {
		return fmt.Errorf("revoke API key: %w", err)
	}
	if !revoked {
		return fmt.Errorf("no active API key with prefix %q", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
	return nil
}
