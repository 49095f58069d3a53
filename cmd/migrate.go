package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"wa-relay/internal/config"
	"wa-relay/internal/repository"
)

var errNoSQLStore = errors.New("migrate requires STORE_BACKEND=sqlite or postgres")

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the messages table for the SQL store",
		Long:  `Creates the messages table and its sender index when they do not exist. Reads STORE_BACKEND and DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
			if backend != config.BackendSQLite && backend != config.BackendPostgres {
				return errNoSQLStore
			}
			dsn := mustEnv("DATABASE_URL")

			client, err := repository.OpenSQL(cmd.Context(), repository.Dialect(backend), dsn)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", backend)
			return nil
		},
	}
}

func mustEnv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
