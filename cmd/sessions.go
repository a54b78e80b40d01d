package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/store"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect import sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions for the configured account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sessions, err := env.Store.ListSessions(ctx, store.SessionFilter{
			AccountID: cfg.Account.ID,
			Status:    model.SessionStatus(sessionsStatus),
			Limit:     sessionsLimit,
		})
		if err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		fmt.Printf("%-36s  %-10s  %6s  %6s  %6s  %s\n", "ID", "STATUS", "ROWS", "DONE", "FAILED", "FILE")
		for _, s := range sessions {
			fmt.Printf("%-36s  %-10s  %6d  %6d  %6d  %s\n",
				s.ID, s.Status, s.TotalRows, s.ProcessedRows, s.FailedRows, s.FileName)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's progress counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		session, err := env.Pipeline.Progress(ctx, args[0])
		if err != nil {
			return err
		}
		printSession(session)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "max sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}
