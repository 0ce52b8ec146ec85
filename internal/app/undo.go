package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/output"
	"github.com/blackwell-systems/keg/internal/snapshots"
)

var (
	undoFlagList bool
	undoFlagYes  bool
)

var undoCmd = &cobra.Command{
	Use:   "undo [snapshot-id | latest]",
	Short: "Restore packages from a snapshot",
	Long: `Reinstall packages removed by uninstall, cleanup or autoremove.

A snapshot is taken automatically before each of those commands removes
anything. Restoring installs the current version of each package; packages
that were dependencies are installed as dependencies again.

Arguments:
  snapshot-id  The numeric ID of the snapshot to restore
  latest       Restore the most recent snapshot`,
	Example: `  keg undo --list           # List all snapshots
  keg undo latest           # Restore latest snapshot
  keg undo 42               # Restore snapshot ID 42
  keg undo 42 --yes         # Restore without confirmation`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUndo,
}

func init() {
	undoCmd.Flags().BoolVar(&undoFlagList, "list", false, "List available snapshots")
	undoCmd.Flags().BoolVarP(&undoFlagYes, "yes", "y", false, "Skip confirmation prompt")

	RootCmd.AddCommand(undoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.requireStore(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if undoFlagList {
		return listSnapshots(out, s.snaps)
	}

	if len(args) == 0 {
		return fmt.Errorf("snapshot ID or 'latest' required\n\nUsage: keg undo [snapshot-id | latest]\n\nUse 'keg undo --list' to see available snapshots")
	}

	snapshotID, err := parseSnapshotArg(s.snaps, args[0])
	if err != nil {
		return err
	}
	if strings.EqualFold(args[0], "latest") {
		fmt.Fprintf(out, "Using latest snapshot: ID %d\n", snapshotID)
	}

	snapshot, err := s.store.GetSnapshot(snapshotID)
	if err != nil {
		return fmt.Errorf("snapshot %d not found\n\nRun 'keg undo --list' to see available snapshots", snapshotID)
	}
	snapshotPackages, err := s.store.GetSnapshotPackages(snapshotID)
	if err != nil {
		return fmt.Errorf("failed to get snapshot packages: %w", err)
	}

	fmt.Fprintf(out, "\nSnapshot Details:\n")
	fmt.Fprintf(out, "  ID: %d\n", snapshot.ID)
	fmt.Fprintf(out, "  Created: %s\n", snapshot.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Reason: %s\n", snapshot.Reason)
	fmt.Fprintf(out, "  Packages: %d\n", snapshot.PackageCount)
	fmt.Fprintln(out)

	if len(snapshotPackages) > 0 {
		fmt.Fprintln(out, "Packages to restore:")
		for _, pkg := range snapshotPackages {
			explicitStr := ""
			if pkg.WasExplicit {
				explicitStr = " (explicit)"
			}
			fmt.Fprintf(out, "  - %s%s\n", formatPackageDisplay(pkg.PackageName, pkg.Version), explicitStr)
		}
		fmt.Fprintln(out)
	}

	if !undoFlagYes && !confirmRestore(out, cmd.InOrStdin(), len(snapshotPackages)) {
		fmt.Fprintln(out, "Restoration cancelled.")
		return nil
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	fmt.Fprintf(out, "Restoring %d packages...\n", len(snapshotPackages))
	var result *snapshots.RestoreResult
	s.withDownloadProgress(func() {
		result, err = s.snaps.RestoreSnapshot(ctx, snapshotID, s.manager)
	})
	if err != nil {
		return fmt.Errorf("failed to restore snapshot %d: %w", snapshotID, err)
	}

	for _, r := range result.Results {
		if r.Err != nil {
			fmt.Fprintf(out, "%s %v\n", output.Error("✗"), r.Err)
			continue
		}
		fmt.Fprintf(out, "%s %s %s %s\n", output.Success("✓"), r.Name, r.Version, output.Muted(r.Outcome.String()))
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  %s %s\n", output.Warning("warning:"), w)
	}

	if err := result.Err(); err != nil {
		fmt.Fprintln(out, "\nSome packages may have been restored successfully.")
		return fmt.Errorf("restoration completed with errors: %w", err)
	}
	fmt.Fprintf(out, "\n%s Restored %d packages from snapshot %d\n", output.Success("✓"), len(result.Results), snapshotID)
	return nil
}

// parseSnapshotArg resolves "latest" or a numeric ID.
func parseSnapshotArg(m *snapshots.Manager, arg string) (int64, error) {
	if strings.EqualFold(arg, "latest") {
		latest, err := m.Latest()
		if err != nil {
			return 0, fmt.Errorf("%w\n\nSnapshots are created automatically before uninstall, cleanup and autoremove", err)
		}
		return latest.ID, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot ID: %s (must be a number or 'latest')", arg)
	}
	return id, nil
}

// formatPackageDisplay returns the display name for a package, including the
// version suffix only when Version is non-empty (avoids trailing "@").
func formatPackageDisplay(name, version string) string {
	if version != "" {
		return name + "@" + version
	}
	return name
}

// listSnapshots displays all available snapshots.
func listSnapshots(out io.Writer, snapMgr *snapshots.Manager) error {
	snaps, err := snapMgr.ListSnapshots()
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	if len(snaps) == 0 {
		fmt.Fprintln(out, "No snapshots available.")
		fmt.Fprintln(out, "\nSnapshots are created automatically before uninstall, cleanup and autoremove.")
		return nil
	}

	fmt.Fprintf(out, "\nAvailable snapshots:\n\n")
	fmt.Fprint(out, output.RenderSnapshotTable(snaps))
	fmt.Fprintf(out, "\nRestore with: keg undo <id>\n")
	return nil
}

// confirmRestore prompts the user to confirm restoration.
func confirmRestore(out io.Writer, in io.Reader, count int) bool {
	fmt.Fprintf(out, "Restore %d packages? [y/N]: ", count)

	if in == nil {
		in = os.Stdin
	}
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
