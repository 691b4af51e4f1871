package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/store"
)

func newMigrateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if g.cfg.StoreBackend == config.StoreSQLite {
				// Opening the SQLite store migrates it.
				sq, err := store.OpenSQLite(ctx, g.cfg.SQLitePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "sqlite store at %s is up to date\n", g.cfg.SQLitePath)
				return sq.Close()
			}

			dsn := g.cfg.DatabaseURL()
			if err := store.MigrateTimescale(ctx, dsn); err != nil {
				return err
			}
			version, err := store.MigrationVersion(ctx, dsn)
			if err != nil {
				return err
			}
			log.Info("timescale migrated", "version", version)
			fmt.Fprintf(out, "timescale schema at version %d\n", version)
			return nil
		},
	}
}
