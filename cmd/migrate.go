package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/sensorsvc"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Applies pending migrations to the bookkeeping store and creates or upgrades the schema of every configured service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		for _, svc := range cfg.Services {
			pool, err := servicePool(ctx, svc.ID, svc.DatabaseURL)
			if err != nil {
				return err
			}
			err = sensorsvc.Migrate(ctx, pool, svc.Schema)
			pool.Close()
			if err != nil {
				return eris.Wrapf(err, "migrate service %s", svc.ID)
			}
			zap.L().Info("service schema migrated", zap.String("service", svc.ID), zap.String("schema", svc.Schema))
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
