package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/auth"
	"github.com/dgnsrekt/catalog-stream/internal/store"
)

func sweepTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-tokens",
		Short: "Delete expired access tokens once and exit",
		Long: `Delete access tokens older than auth.token_validity.

The serve command already sweeps every auth.sweep_interval; this runs a
single sweep, e.g. from cron when the server is not running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := store.Open(ctx, &cfg.DB, cfg.Location(), logger)
			if err != nil {
				return err
			}
			defer st.Close()

			tokens := auth.NewTokenStore(st, cfg.Auth.TokenValidity, clockwork.NewRealClock(), logger)
			deleted, err := tokens.DeleteExpired(ctx)
			if err != nil {
				return err
			}

			logger.Info("expired tokens deleted", zap.Int64("count", deleted))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired tokens\n", deleted)
			return nil
		},
	}
}
