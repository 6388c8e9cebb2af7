package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		if err := enc.Encode(cfg.Redacted()); err != nil {
			return eris.Wrap(err, "encode config")
		}

		mode, _ := cmd.Flags().GetString("validate")
		if mode != "" {
			return cfg.Validate(mode)
		}
		return nil
	},
}

func init() {
	configCmd.Flags().String("validate", "", "also validate for a mode (pipeline, serve, worker)")
	rootCmd.AddCommand(configCmd)
}
