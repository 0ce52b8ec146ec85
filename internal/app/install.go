package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/logging"
	"github.com/blackwell-systems/keg/internal/output"
)

var (
	installFlagForce bool
	installFlagCask  bool
)

var installCmd = &cobra.Command{
	Use:   "install <formula>...",
	Short: "Install formulae and their dependencies",
	Long: `Install one or more formulae with their runtime dependencies.

Bottles are downloaded in parallel, poured into the Cellar, relocated and
linked into the prefix. Formulae without a bottle for this platform, or from
a third-party tap (user/repo/name), are installed by brew instead. Keg-only
formulae are poured but not linked.

A link conflict is reported as a warning and leaves the formula unlinked;
use --force to overwrite conflicting files.`,
	Example: `  keg install jq
  keg install wget curl
  keg install --cask firefox
  keg install --format json jq`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVarP(&installFlagForce, "force", "f", false, "Overwrite conflicting files when linking")
	installCmd.Flags().BoolVar(&installFlagCask, "cask", false, "Install casks through brew")
	installCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
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

	if installFlagCask {
		if err := s.delegate.InstallCask(ctx, args...); err != nil {
			return fmt.Errorf("cask install failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %s via brew\n", joinNames(args))
		return nil
	}

	done := logging.LogOperationStart(s.log, "install")
	defer done()

	var report *installer.InstallReport
	s.withDownloadProgress(func() {
		report = s.manager.Install(ctx, s.names(args), installer.InstallOptions{Force: installFlagForce})
	})

	if err := printInstallReport(cmd, format, report); err != nil {
		return err
	}
	failed := countFailed(report)
	if failed == 0 {
		return report.Err()
	}
	return itemFailures(failed, len(args), "install")
}

func printInstallReport(cmd *cobra.Command, format output.Format, report *installer.InstallReport) error {
	if format != output.FormatTable {
		return output.Encode(cmd.OutOrStdout(), format, report.Results)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderInstallReport(report))
	return nil
}

// countFailed counts failed results of requested formulae.
func countFailed(report *installer.InstallReport) int {
	n := 0
	for _, r := range report.Results {
		if r.Requested && r.Err != nil {
			n++
		}
	}
	return n
}
