package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	exportOut    string
	exportNotion bool
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a session audit workbook",
	Long:  "Writes an XLSX workbook of row outcomes and, with --notion, publishes a summary page to the configured Notion database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out := exportOut
		if out == "" {
			out = args[0] + ".xlsx"
		}
		if err := env.Exporter.WriteWorkbook(ctx, args[0], out); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", out)

		if exportNotion {
			url, err := env.Exporter.PublishSummary(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("published %s\n", url)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <session-id>.xlsx)")
	exportCmd.Flags().BoolVar(&exportNotion, "notion", false, "also publish a Notion summary page")
	rootCmd.AddCommand(exportCmd)
}
