package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/output"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [formula...]",
	Short: "Upgrade outdated formulae",
	Long: `Upgrade the named formulae, or every outdated formula when none are given.

The new version is poured alongside the old one; only once it is in place is
the old version unlinked and removed. A failure before that point leaves the
old version installed and linked. Pinned formulae are skipped.`,
	Example: `  keg upgrade
  keg upgrade jq wget`,
	RunE: runUpgrade,
}

var outdatedCmd = &cobra.Command{
	Use:   "outdated",
	Short: "List formulae with a newer version available",
	Args:  cobra.NoArgs,
	RunE:  runOutdated,
}

var reinstallCmd = &cobra.Command{
	Use:   "reinstall <formula>...",
	Short: "Reinstall formulae from a fresh bottle",
	Long: `Replace the installed version of each formula with a fresh pour of the
current bottle. The bottle is downloaded before anything is removed. Pinned
formulae are skipped; tap formulae are reinstalled by brew.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReinstall,
}

func init() {
	upgradeCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	outdatedCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	reinstallCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(upgradeCmd)
	RootCmd.AddCommand(outdatedCmd)
	RootCmd.AddCommand(reinstallCmd)
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var report *installer.UpgradeReport
	s.withDownloadProgress(func() {
		report = s.manager.UpgradeAll(ctx, s.names(args))
	})

	if format != output.FormatTable {
		if err := output.Encode(cmd.OutOrStdout(), format, report.Results); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), output.RenderUpgradeReport(report))
	}

	failed := 0
	for _, r := range report.Results {
		if r.Err != nil {
			failed++
		}
	}
	return itemFailures(failed, len(report.Results), "upgrade")
}

func runOutdated(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	entries, err := s.manager.Outdated(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for outdated formulae: %w", err)
	}
	if format != output.FormatTable {
		if entries == nil {
			entries = []installer.OutdatedEntry{}
		}
		return output.Encode(cmd.OutOrStdout(), format, entries)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderOutdatedTable(entries))
	return nil
}

func runReinstall(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var report *installer.InstallReport
	s.withDownloadProgress(func() {
		report = s.manager.Reinstall(ctx, s.names(args))
	})
	if err := printInstallReport(cmd, format, report); err != nil {
		return err
	}
	return itemFailures(countFailed(report), len(report.Results), "reinstall")
}
