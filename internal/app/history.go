package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/output"
	"github.com/blackwell-systems/keg/internal/store"
)

var (
	historyFlagLimit   int
	historyFlagFormula string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded package operations",
	Long: `Show installs, upgrades, removals and other operations keg has performed,
newest first, with their outcome and duration.`,
	Example: `  keg history
  keg history --limit 50
  keg history --formula jq --format json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyFlagLimit, "limit", "n", 20, "Number of entries to show (0 for all)")
	historyCmd.Flags().StringVar(&historyFlagFormula, "formula", "", "Only show entries for this formula")
	historyCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.requireStore(); err != nil {
		return err
	}

	entries, err := s.store.ListHistory(historyFlagLimit, historyFlagFormula)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if format != output.FormatTable {
		if entries == nil {
			entries = []*store.HistoryEntry{}
		}
		return output.Encode(cmd.OutOrStdout(), format, entries)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderHistoryTable(entries))
	return nil
}
