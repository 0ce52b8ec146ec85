package app

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/graph"
	"github.com/blackwell-systems/keg/internal/output"
)

var (
	depsFlagTree      bool
	depsFlagInstalled bool
	usesFlagRecursive bool
)

var depsCmd = &cobra.Command{
	Use:   "deps <formula>",
	Short: "Show a formula's dependencies",
	Long: `Show the runtime dependencies of a formula.

By default the formula API is consulted and the full dependency closure is
listed. With --installed only the receipts of installed formulae are read.`,
	Example: `  keg deps wget
  keg deps --tree wget
  keg deps --installed --tree jq`,
	Args: cobra.ExactArgs(1),
	RunE: runDeps,
}

var usesCmd = &cobra.Command{
	Use:   "uses <formula>",
	Short: "Show installed formulae that depend on a formula",
	Args:  cobra.ExactArgs(1),
	RunE:  runUses,
}

var leavesCmd = &cobra.Command{
	Use:   "leaves",
	Short: "List installed formulae that nothing else depends on",
	Long: `List formulae installed on request that no other installed formula
depends on. Only installed receipts are read.`,
	Args: cobra.NoArgs,
	RunE: runLeaves,
}

func init() {
	depsCmd.Flags().BoolVar(&depsFlagTree, "tree", false, "Print dependencies as a tree")
	depsCmd.Flags().BoolVar(&depsFlagInstalled, "installed", false, "Use installed receipts instead of the formula API")
	usesCmd.Flags().BoolVarP(&usesFlagRecursive, "recursive", "r", false, "Include formulae that depend on it indirectly")

	RootCmd.AddCommand(depsCmd)
	RootCmd.AddCommand(usesCmd)
	RootCmd.AddCommand(leavesCmd)
}

func runDeps(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	name := s.names(args)[0]
	var (
		children func(string) []string
		closure  []string
	)

	if depsFlagInstalled {
		name = cellar.ShortName(name)
		g, err := installedGraph(s.cellar)
		if err != nil {
			return err
		}
		if !g.Installed(name) {
			return fmt.Errorf("%s: %w", name, cellar.ErrNotInstalled)
		}
		children = g.Dependencies
		closure = g.Chain(name)
	} else {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := s.manager.Resolve(ctx, []string{name})
		if err != nil {
			return err
		}
		children = func(n string) []string {
			if f, ok := res.Formulae[n]; ok {
				return f.Dependencies
			}
			return nil
		}
		for _, n := range res.RuntimeClosure([]string{name}) {
			if n != name {
				closure = append(closure, n)
			}
		}
	}

	out := cmd.OutOrStdout()
	if depsFlagTree {
		fmt.Fprint(out, output.RenderDependencyTree(name, children))
		return nil
	}
	sort.Strings(closure)
	for _, n := range closure {
		fmt.Fprintln(out, n)
	}
	return nil
}

func runUses(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	name := cellar.ShortName(s.names(args)[0])
	g, err := installedGraph(s.cellar)
	if err != nil {
		return err
	}

	users := g.Dependents(name)
	if usesFlagRecursive {
		users = transitiveDependents(g, name)
	}
	for _, n := range users {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func runLeaves(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := installedGraph(s.cellar)
	if err != nil {
		return err
	}
	for _, n := range g.Leaves() {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func installedGraph(c *cellar.Cellar) (*graph.Graph, error) {
	pkgs, err := c.ListInstalled()
	if err != nil {
		return nil, fmt.Errorf("failed to read Cellar: %w", err)
	}
	return graph.Build(pkgs), nil
}

// transitiveDependents walks dependents breadth first and returns them
// sorted, excluding name.
func transitiveDependents(g *graph.Graph, name string) []string {
	seen := map[string]bool{name: true}
	queue := []string{name}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, d := range g.Dependents(n) {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	sort.Strings(out)
	return out
}
