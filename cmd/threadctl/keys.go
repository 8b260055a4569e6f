package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/kiranshivaraju/threadpost/internal/store"
)

var validScopes = map[string]bool{"read": true, "write": true, "admin": true}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys directly in the database",
	}
	cmd.AddCommand(newKeysCreateCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name string
	var scopes []string
	var migrate bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Long: "Create an API key in the database named by DATABASE_URL. This is how the first admin key is made, " +
			"before any key exists to call POST /admin/keys.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkScopes(scopes); err != nil {
				return err
			}

			databaseURL := os.Getenv("DATABASE_URL")
			if databaseURL == "" {
				return errors.New("DATABASE_URL environment variable is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			dbCfg := config.DatabaseConfig{
				URL:             databaseURL,
				MaxOpenConns:    1,
				ConnMaxLifetime: time.Minute,
				MigrationsDir:   os.Getenv("MIGRATIONS_DIR"),
			}
			if dbCfg.MigrationsDir == "" {
				dbCfg.MigrationsDir = "migrations"
			}

			pool, err := store.Connect(ctx, dbCfg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if migrate {
				if err := store.RunMigrations(dbCfg.URL, dbCfg.MigrationsDir); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
			}

			raw, key, err := store.NewAPIKey(name, scopes)
			if err != nil {
				return err
			}
			if err := store.NewPostgresStore(pool).CreateAPIKey(ctx, key); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					return fmt.Errorf("an API key named %q already exists", name)
				}
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:     %s\n", key.ID)
			fmt.Fprintf(out, "name:   %s\n", key.Name)
			fmt.Fprintf(out, "scopes: %s\n", strings.Join(key.Scopes, ","))
			fmt.Fprintf(out, "key:    %s\n", raw)
			fmt.Fprintln(cmd.ErrOrStderr(), "store this key now; it cannot be shown again")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name (unique)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{"read", "write"}, "comma-separated scopes: read, write, admin")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations first")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func checkScopes(scopes []string) error {
	for _, s := range scopes {
		if !validScopes[s] {
			return fmt.Errorf("unknown scope %q: must be read, write or admin", s)
		}
	}
	return nil
}
