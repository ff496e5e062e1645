// migrate applies the embedded SQL migrations to DATABASE_URL: migrate up | down | version.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sessionguard/internal/config"
	"sessionguard/internal/db/migrate"
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the sessionguard database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func direction(dir string) *cobra.Command {
	return &cobra.Command{
		Use:   dir,
		Short: fmt.Sprintf("Apply migrations %s", dir),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrate.Run(dsn, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: done\n", dir)
			return nil
		},
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dsn, err := databaseURL()
		if err != nil {
			return err
		}
		v, dirty, err := migrate.Version(dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
		return nil
	},
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	return cfg.DatabaseURL, nil
}

func main() {
	rootCmd.AddCommand(direction("up"), direction("down"), versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
