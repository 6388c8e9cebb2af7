package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/store"
)

var migrateSource bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the dialer schema migrations",
	Long:  "Applies the dialer schema. With --source, also creates the lending source tables used in development.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return eris.Wrap(err, "connect store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}
		if migrateSource {
			if err := st.MigrateSource(ctx); err != nil {
				return eris.Wrap(err, "migrate source")
			}
		}
		zap.L().Info("migrations applied", zap.Bool("source", migrateSource))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSource, "source", false, "also create source account tables")
	rootCmd.AddCommand(migrateCmd)
}
