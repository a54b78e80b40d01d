package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Expire sessions and dedup records past retention",
	Long:  "Marks non-terminal sessions past their 15-day retention window as expired and deletes expired dedup records. Idempotent; safe to run from cron.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		expired, err := env.Store.ExpireSessions(ctx, time.Now().UTC())
		if err != nil {
			return err
		}

		purged, err := env.Dedup.PurgeExpired(ctx, cfg.Account.ID)
		if err != nil {
			return err
		}

		zap.L().Info("purge complete",
			zap.Int64("sessions_expired", expired),
			zap.Int64("dedup_purged", purged),
		)
		fmt.Printf("expired %d sessions, purged %d dedup records\n", expired, purged)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
