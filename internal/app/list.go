package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/linker"
	"github.com/blackwell-systems/keg/internal/output"
	"github.com/blackwell-systems/keg/internal/version"
)

var (
	listFlagVersions bool
	listFlagPinned   bool
)

var listCmd = &cobra.Command{
	Use:     "list [formula...]",
	Aliases: []string{"ls"},
	Short:   "List installed formulae",
	Long: `List installed formulae with their versions, size and state.

The linked version is marked with '*'. Only the Cellar is read.`,
	Example: `  keg list
  keg list --versions
  keg list --pinned
  keg list --format json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listFlagVersions, "versions", false, "Print one line per formula with its installed versions")
	listCmd.Flags().BoolVar(&listFlagPinned, "pinned", false, "Only list pinned formulae")
	listCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	pkgs, err := s.cellar.ListInstalled()
	if err != nil {
		return fmt.Errorf("failed to read Cellar: %w", err)
	}

	var only map[string]bool
	if len(args) > 0 {
		only = map[string]bool{}
		for _, n := range s.names(args) {
			only[cellar.ShortName(n)] = true
		}
	}

	if only != nil {
		installed := map[string]bool{}
		for _, p := range pkgs {
			installed[p.Name] = true
		}
		var missing []string
		for n := range only {
			if !installed[n] {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("not installed: %s", joinNames(missing))
		}
	}
	rows := installedRows(s.cellar, s.linker, pkgs, only, listFlagPinned)

	out := cmd.OutOrStdout()
	switch {
	case format != output.FormatTable:
		if rows == nil {
			rows = []output.InstalledRow{}
		}
		return output.Encode(out, format, rows)
	case listFlagVersions:
		for _, r := range rows {
			fmt.Fprintf(out, "%s %s\n", r.Name, strings.Join(r.Versions, " "))
		}
		return nil
	default:
		fmt.Fprint(out, output.RenderInstalledTable(rows))
		return nil
	}
}

// installedRows groups Cellar entries per formula, name-sorted, with
// versions in ascending order.
func installedRows(c *cellar.Cellar, l *linker.Linker, pkgs []cellar.InstalledPackage, only map[string]bool, pinnedOnly bool) []output.InstalledRow {
	byName := map[string]*output.InstalledRow{}
	var names []string
	for _, p := range pkgs {
		if only != nil && !only[p.Name] {
			continue
		}
		row, ok := byName[p.Name]
		if !ok {
			row = &output.InstalledRow{Name: p.Name}
			byName[p.Name] = row
			names = append(names, p.Name)
		}
		row.Versions = append(row.Versions, p.Version)
		if p.OnRequest() {
			row.OnRequest = true
		}
		if size, err := cellar.DirSize(p.Path); err == nil {
			row.Size += size
		}
	}
	sort.Strings(names)

	var rows []output.InstalledRow
	for _, n := range names {
		row := byName[n]
		row.Pinned = c.IsPinned(n)
		if pinnedOnly && !row.Pinned {
			continue
		}
		if v, ok := l.LinkedVersion(n); ok {
			row.Linked = v
		}
		sort.Slice(row.Versions, func(i, j int) bool {
			return version.Compare(row.Versions[i], row.Versions[j]) == version.Less
		})
		rows = append(rows, *row)
	}
	return rows
}
