package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/db"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded PostgreSQL schema. Statements are idempotent.

Environment Variables Required:
  DATABASE_URL    - PostgreSQL connection string

Examples:
  oncall migrate             # Apply the schema
  oncall migrate --dry-run   # Print the schema without applying it`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			fmt.Fprintln(cmd.OutOrStdout(), db.Schema)
			return nil
		}

		pg, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer pg.Close()

		if _, err := pg.ExecContext(cmd.Context(), db.Schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		logrus.Info("Schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the schema without applying it")
}
