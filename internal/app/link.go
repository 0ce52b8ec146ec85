package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/linker"
	"github.com/blackwell-systems/keg/internal/output"
)

var (
	linkFlagOverwrite bool
	linkFlagDryRun    bool
	linkFlagForce     bool
)

var linkCmd = &cobra.Command{
	Use:   "link <formula>...",
	Short: "Symlink a formula's files into the prefix",
	Long: `Create symlinks in the prefix for the current version of each formula.

Keg-only formulae are refused unless --force is given. Existing files that
do not belong to the formula are conflicts; --overwrite replaces them.`,
	Example: `  keg link jq
  keg link --dry-run jq
  keg link --force openssl@3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <formula>...",
	Short: "Remove a formula's symlinks from the prefix",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnlink,
}

var pinCmd = &cobra.Command{
	Use:   "pin <formula>...",
	Short: "Stop upgrade and reinstall from touching a formula",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPin,
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <formula>...",
	Short: "Allow a pinned formula to be upgraded again",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnpin,
}

func init() {
	linkCmd.Flags().BoolVar(&linkFlagOverwrite, "overwrite", false, "Replace conflicting files in the prefix")
	linkCmd.Flags().BoolVarP(&linkFlagDryRun, "dry-run", "n", false, "List the links that would be created")
	linkCmd.Flags().BoolVarP(&linkFlagForce, "force", "f", false, "Link keg-only formulae")

	RootCmd.AddCommand(linkCmd)
	RootCmd.AddCommand(unlinkCmd)
	RootCmd.AddCommand(pinCmd)
	RootCmd.AddCommand(unpinCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	opts := installer.LinkOptions{Overwrite: linkFlagOverwrite, DryRun: linkFlagDryRun, Force: linkFlagForce}
	failed := 0
	for _, name := range s.names(args) {
		links, err := s.manager.Link(ctx, name, opts)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %v\n", output.Error("✗"), err)
			var conflict *linker.ConflictError
			switch {
			case errors.As(err, &conflict):
				fmt.Fprintln(out, "  Use --overwrite to replace the conflicting files.")
			case errors.Is(err, installer.ErrKegOnly):
				fmt.Fprintln(out, "  Use --force to link it anyway.")
			}
			continue
		}
		if linkFlagDryRun {
			fmt.Fprintf(out, "Would link %d files for %s:\n", len(links), name)
			for _, l := range links {
				fmt.Fprintf(out, "  %s\n", l)
			}
			continue
		}
		fmt.Fprintf(out, "%s Linked %s (%d symlinks)\n", output.Success("✓"), name, len(links))
	}
	return itemFailures(failed, len(args), "link")
}

func runUnlink(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	failed := 0
	for _, name := range s.names(args) {
		removed, err := s.manager.Unlink(ctx, name)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %v\n", output.Error("✗"), err)
			continue
		}
		fmt.Fprintf(out, "Unlinked %s (%d symlinks removed)\n", name, len(removed))
	}
	return itemFailures(failed, len(args), "unlink")
}

func runPin(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, name := range s.names(args) {
		v, err := s.manager.Pin(name)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %v\n", output.Error("✗"), err)
			continue
		}
		fmt.Fprintf(out, "Pinned %s %s\n", name, v)
	}
	return itemFailures(failed, len(args), "pin")
}

func runUnpin(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, name := range s.names(args) {
		if err := s.manager.Unpin(name); err != nil {
			failed++
			fmt.Fprintf(out, "%s %v\n", output.Error("✗"), err)
			continue
		}
		fmt.Fprintf(out, "Unpinned %s\n", name)
	}
	return itemFailures(failed, len(args), "unpin")
}
