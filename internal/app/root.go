package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/formula"
)

// Version is set at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

var (
	configPath  string
	prefixFlag  string
	verboseFlag int
	noColorFlag bool

	// RootCmd is the root command for keg
	RootCmd = &cobra.Command{
		Use:   "keg",
		Short: "Fast Homebrew-compatible bottle installer",
		Long: `keg installs, upgrades and removes precompiled Homebrew bottles into a
Homebrew-compatible prefix. Packages it installs are indistinguishable from
ones poured by brew: same Cellar layout, same receipts, same links.

Formulae without a bottle for this platform, formulae from third-party taps
and casks are handed to brew.

Examples:
  # Install a formula and its dependencies
  keg install jq

  # Upgrade everything that is outdated
  keg upgrade

  # Remove old versions and unused dependencies
  keg cleanup
  keg autoremove

  # Undo the last removal
  keg undo latest`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			formula.UserAgentVersion = Version
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "keg: Homebrew-compatible bottle installer")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Run 'keg install <formula>' to install a package.")
			fmt.Fprintln(out, "Run 'keg --help' for all commands.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/keg/config.toml)")
	RootCmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "installation prefix (overrides config)")
	RootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	RootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable styled output")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}
