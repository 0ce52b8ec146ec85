package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/graph"
	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/output"
)

var (
	uninstallFlagVersion    string
	uninstallFlagIgnoreDeps bool
	uninstallFlagNoSnapshot bool
	uninstallFlagCask       bool
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <formula>...",
	Aliases: []string{"remove", "rm"},
	Short:   "Uninstall formulae",
	Long: `Unlink and remove every installed version of each formula, or only the
version given with --version.

A formula that other installed formulae depend on is refused unless
--ignore-dependencies is given. A snapshot of the removed packages is taken
first so 'keg undo' can reinstall them.`,
	Example: `  keg uninstall jq
  keg uninstall --version 1.6 jq
  keg uninstall --ignore-dependencies oniguruma`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().StringVar(&uninstallFlagVersion, "version", "", "Remove only this version")
	uninstallCmd.Flags().BoolVar(&uninstallFlagIgnoreDeps, "ignore-dependencies", false, "Remove even if other formulae depend on it")
	uninstallCmd.Flags().BoolVar(&uninstallFlagNoSnapshot, "no-snapshot", false, "Skip the undo snapshot")
	uninstallCmd.Flags().BoolVar(&uninstallFlagCask, "cask", false, "Uninstall casks through brew")
	uninstallCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
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

	if uninstallFlagCask {
		if err := s.delegate.UninstallCask(ctx, args...); err != nil {
			return fmt.Errorf("cask uninstall failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s via brew\n", joinNames(args))
		return nil
	}

	names := s.names(args)
	opts := installer.UninstallOptions{Version: uninstallFlagVersion, IgnoreDependencies: uninstallFlagIgnoreDeps}

	if !uninstallFlagNoSnapshot {
		pkgs, err := uninstallTargets(s.cellar, names, opts)
		if err != nil {
			return err
		}
		s.snapshot(pkgs, "uninstall "+strings.Join(names, " "))
	}

	var bar *output.ProgressBar
	if len(names) > 1 {
		bar = output.NewProgress(len(names), "Uninstalling")
		bar.SetWriter(cmd.ErrOrStderr())
		bar.SetWidth(30)
		defer bar.Finish()
	}

	out := cmd.OutOrStdout()
	var results []*installer.UninstallResult
	failed := 0
	for _, name := range names {
		if bar != nil {
			bar.SetDescription("Uninstalling " + name)
		}
		res, err := s.manager.Uninstall(ctx, name, opts)
		if bar != nil {
			bar.Increment()
		}
		results = append(results, res)
		if err != nil {
			failed++
			if format == output.FormatTable {
				fmt.Fprintf(out, "%s %v\n", output.Error("✗"), err)
				if errors.Is(err, installer.ErrDependents) {
					fmt.Fprintln(out, "  Use --ignore-dependencies to remove it anyway.")
				}
			}
			continue
		}
		if format == output.FormatTable {
			fmt.Fprint(out, output.RenderUninstallResult(res))
		}
	}

	if format != output.FormatTable {
		if err := output.Encode(out, format, results); err != nil {
			return err
		}
	}
	return itemFailures(failed, len(names), "uninstall")
}

// uninstallTargets returns the installed versions an uninstall of names
// would remove, leaving out formulae it would refuse.
func uninstallTargets(c *cellar.Cellar, names []string, opts installer.UninstallOptions) ([]cellar.InstalledPackage, error) {
	all, err := c.ListInstalled()
	if err != nil {
		return nil, err
	}
	g := graph.Build(all)

	var out []cellar.InstalledPackage
	for _, name := range names {
		name = cellar.ShortName(name)
		if !opts.IgnoreDependencies && opts.Version == "" && len(g.Dependents(name)) > 0 {
			continue
		}
		for _, p := range all {
			if p.Name != name {
				continue
			}
			if opts.Version == "" || p.Version == opts.Version {
				out = append(out, p)
			}
		}
	}
	return out, nil
}
