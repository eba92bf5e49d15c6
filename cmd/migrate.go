package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply target schema migrations",
	Long:  "Applies all pending SQL migrations for the import target tables in lexicographic order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		pool, err := connectPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
