package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/import-cli/internal/model"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <session-id>",
	Short: "Run the enrichment stage for a session",
	Long:  "Drains pending and failed rows through the enabled enrichment configs. The session must be uploaded or failed; failed sessions retry within their retry budget.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		session, err := env.Pipeline.StartEnrichment(ctx, args[0])
		if err != nil {
			return err
		}
		printSession(session)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <session-id>",
	Short: "Run the sync stage for an enriched session",
	Long:  "Applies transform and validate rules, upserts deduplicated contacts and companies, pushes them to Salesforce when configured, and deletes synced rows.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		session, err := env.Pipeline.StartSync(ctx, args[0])
		if err != nil {
			return err
		}
		printSession(session)
		return nil
	},
}

func printSession(s *model.Session) {
	fmt.Printf("session %s: %s\n", s.ID, s.Status)
	fmt.Printf("  file:      %s\n", s.FileName)
	fmt.Printf("  rows:      %d total, %d processed, %d enriched, %d synced, %d failed\n",
		s.TotalRows, s.ProcessedRows, s.EnrichedRows, s.SyncedRows, s.FailedRows)
	if s.ErrorMessage != "" {
		fmt.Printf("  error:     %s\n", s.ErrorMessage)
	}
	if s.RetryCount > 0 {
		fmt.Printf("  retries:   %d/%d\n", s.RetryCount, s.MaxRetries)
	}
}

func init() {
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(syncCmd)
}
