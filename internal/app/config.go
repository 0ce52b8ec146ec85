package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/config"
	"github.com/blackwell-systems/keg/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show every setting after defaults, the config file, KEG_* environment
variables and command-line flags have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	settings := cfg.Settings()
	if format != output.FormatTable {
		m := make(map[string]string, len(settings))
		for _, kv := range settings {
			m[kv[0]] = kv[1]
		}
		return output.Encode(out, format, m)
	}

	source := cfg.Path
	if source == "" {
		source = config.DefaultPath() + " (not present)"
	}
	fmt.Fprintln(out, output.Heading("Config file: ")+source)
	fmt.Fprintln(out)
	for _, kv := range settings {
		fmt.Fprintf(out, "%-20s %s\n", kv[0], kv[1])
	}
	return nil
}
