package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/import-cli/internal/model"
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Manage enrichment configs",
}

// configFile is the YAML shape accepted by `configs load`.
type configFile struct {
	Configs []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Service     string   `yaml:"service"`
		InputFields []string `yaml:"input_fields"`
		Output      string   `yaml:"output"`
		Template    string   `yaml:"template"`
		Model       string   `yaml:"model"`
		SecretName  string   `yaml:"secret_name"`
		Enabled     *bool    `yaml:"enabled"`
		Order       int      `yaml:"order"`
	} `yaml:"configs"`
}

var configsLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load enrichment configs for the account from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read config file")
		}
		var file configFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse config file")
		}

		configs := make([]model.EnrichmentConfig, 0, len(file.Configs))
		for i, c := range file.Configs {
			output, err := model.ParseOutputTarget(c.Output)
			if err != nil {
				return eris.Wrapf(err, "config %q", c.Name)
			}
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			enabled := true
			if c.Enabled != nil {
				enabled = *c.Enabled
			}
			order := c.Order
			if order == 0 {
				order = i
			}
			configs = append(configs, model.EnrichmentConfig{
				ID:             id,
				AccountID:      cfg.Account.ID,
				Name:           c.Name,
				Service:        model.ServiceKind(c.Service),
				InputFields:    c.InputFields,
				Output:         output,
				Template:       c.Template,
				Model:          c.Model,
				SecretName:     c.SecretName,
				Enabled:        enabled,
				ExecutionOrder: order,
			})
		}

		if err := env.Store.SaveEnrichmentConfigs(ctx, configs); err != nil {
			return err
		}
		fmt.Printf("loaded %d configs\n", len(configs))
		return nil
	},
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment configs for the configured account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		configs, err := env.Store.ListEnrichmentConfigs(ctx, cfg.Account.ID)
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("no configs")
			return nil
		}
		fmt.Printf("%-4s  %-24s  %-11s  %-8s  %s\n", "ORD", "NAME", "SERVICE", "ENABLED", "OUTPUT")
		for _, c := range configs {
			fmt.Printf("%-4d  %-24s  %-11s  %-8t  %v\n",
				c.ExecutionOrder, c.Name, c.Service, c.Enabled, c.Output.IDs())
		}
		return nil
	},
}

func init() {
	configsCmd.AddCommand(configsLoadCmd)
	configsCmd.AddCommand(configsListCmd)
	rootCmd.AddCommand(configsCmd)
}
