package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/output"
	"github.com/blackwell-systems/keg/internal/version"
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search formulae and casks by name and description",
	Long: `Search the formula and cask indexes. Exact and prefix name matches rank
first, then fuzzy name matches, then description matches.`,
	Example: `  keg search jq
  keg search "json processor"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var infoCmd = &cobra.Command{
	Use:   "info <formula>",
	Short: "Show formula metadata and local install state",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	searchCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	infoCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(infoCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	spinner := output.NewSpinner("Searching formulae and casks").WithTimeout(s.cfg.Timeout)
	spinner.Start()
	res, err := s.client.Search(ctx, strings.Join(args, " "))
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if format != output.FormatTable {
		return output.Encode(cmd.OutOrStdout(), format, res)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderSearchResults(res))
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
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

	name := s.names(args)[0]
	f, err := s.manager.Fetcher().FetchFormula(ctx, name)
	if err != nil {
		return err
	}

	short := cellar.ShortName(f.Name)
	pkgs, err := s.cellar.InstalledVersions(short)
	if err != nil {
		return err
	}
	info := output.FormulaInfo{
		Formula: f,
		Pinned:  s.cellar.IsPinned(short),
		Bottle:  f.HasBottle(s.downloader.Platform()),
	}
	for _, p := range pkgs {
		info.Installed = append(info.Installed, p.Version)
	}
	sort.Slice(info.Installed, func(i, j int) bool {
		return version.Compare(info.Installed[i], info.Installed[j]) == version.Less
	})
	if v, ok := s.linker.LinkedVersion(short); ok {
		info.Linked = v
	}

	if format != output.FormatTable {
		return output.Encode(cmd.OutOrStdout(), format, info)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderFormulaInfo(info))
	return nil
}
