package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/output"
)

var (
	cleanupFlagDryRun        bool
	cleanupFlagNoSnapshot    bool
	autoremoveFlagDryRun     bool
	autoremoveFlagNoSnapshot bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [formula...]",
	Short: "Remove old versions of installed formulae",
	Long: `Remove every installed version except the newest and the linked one.

With no arguments all formulae are cleaned, broken symlinks in the prefix
are removed and cached bottles for versions no longer installed are deleted.
Running cleanup twice in a row removes nothing the second time.`,
	Example: `  keg cleanup --dry-run
  keg cleanup
  keg cleanup node`,
	RunE: runCleanup,
}

var autoremoveCmd = &cobra.Command{
	Use:   "autoremove",
	Short: "Uninstall dependencies no longer needed",
	Long: `Uninstall formulae that were installed only as dependencies and that no
formula installed on request still needs. Only installed receipts are
consulted; the formula API is not contacted.`,
	Example: `  keg autoremove --dry-run
  keg autoremove`,
	Args: cobra.NoArgs,
	RunE: runAutoremove,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupFlagDryRun, "dry-run", "n", false, "Show what would be removed without removing anything")
	cleanupCmd.Flags().BoolVar(&cleanupFlagNoSnapshot, "no-snapshot", false, "Skip the undo snapshot")
	cleanupCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	autoremoveCmd.Flags().BoolVarP(&autoremoveFlagDryRun, "dry-run", "n", false, "Show what would be removed without removing anything")
	autoremoveCmd.Flags().BoolVar(&autoremoveFlagNoSnapshot, "no-snapshot", false, "Skip the undo snapshot")
	autoremoveCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(cleanupCmd)
	RootCmd.AddCommand(autoremoveCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	names := s.names(args)
	if !cleanupFlagDryRun && !cleanupFlagNoSnapshot {
		plan := s.manager.Cleanup(ctx, names, true)
		s.snapshot(cleanupPackages(s.cellar, plan), "cleanup")
	}

	report := s.manager.Cleanup(ctx, names, cleanupFlagDryRun)
	if format != output.FormatTable {
		if err := output.Encode(cmd.OutOrStdout(), format, report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), output.RenderCleanupReport(report))
	}
	return report.Err()
}

// cleanupPackages maps the versions a cleanup selected back to their
// Cellar entries so they can be snapshotted with their receipts.
func cleanupPackages(c *cellar.Cellar, plan *installer.CleanupReport) []cellar.InstalledPackage {
	selected := map[string]bool{}
	for _, item := range plan.Removed {
		selected[item.Name+"/"+item.Version] = true
	}
	var out []cellar.InstalledPackage
	seen := map[string]bool{}
	for _, item := range plan.Removed {
		if seen[item.Name] {
			continue
		}
		seen[item.Name] = true
		pkgs, err := c.InstalledVersions(item.Name)
		if err != nil {
			continue
		}
		for _, p := range pkgs {
			if selected[p.Name+"/"+p.Version] {
				out = append(out, p)
			}
		}
	}
	return out
}

func runAutoremove(cmd *cobra.Command, args []string) error {
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

	if !autoremoveFlagDryRun && !autoremoveFlagNoSnapshot {
		cands, err := s.manager.AutoremoveCandidates()
		if err != nil {
			return fmt.Errorf("failed to compute unused dependencies: %w", err)
		}
		names := make([]string, 0, len(cands))
		for _, p := range cands {
			names = append(names, p.Name)
		}
		s.snapshot(cands, "autoremove "+strings.Join(names, " "))
	}

	report, err := s.manager.Autoremove(ctx, autoremoveFlagDryRun)
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		if err := output.Encode(cmd.OutOrStdout(), format, report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), output.RenderAutoremoveReport(report))
	}
	return report.Err()
}
