package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/import-cli/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage transform and validate rules",
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed [path]",
	Short: "Seed default-account rules from a YAML file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path := cfg.Rules.SeedPath
		if len(args) > 0 {
			path = args[0]
		}
		n, err := rules.NewLoader(env.Store).SeedFromFile(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d rules from %s\n", n, path)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective rules for the configured account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		accountRules, err := rules.NewLoader(env.Store).Load(ctx, cfg.Account.ID)
		if err != nil {
			return err
		}
		if len(accountRules) == 0 {
			fmt.Println("no rules")
			return nil
		}
		fmt.Printf("%-4s  %-9s  %-18s  %-8s  %s\n", "ORD", "KIND", "OP", "ENABLED", "FIELDS")
		for _, r := range accountRules {
			fmt.Printf("%-4d  %-9s  %-18s  %-8t  %v\n", r.DisplayOrder, r.Kind, r.Op, r.Enabled, r.Fields)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesSeedCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}
