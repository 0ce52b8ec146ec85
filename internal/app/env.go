package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/shell"
)

var (
	envFlagShell   string
	envFlagInstall bool
)

var envCmd = &cobra.Command{
	Use:     "env",
	Aliases: []string{"shellenv"},
	Short:   "Print shell statements that put the prefix on PATH",
	Long: `Print the statements that export HOMEBREW_PREFIX, HOMEBREW_CELLAR, PATH,
MANPATH and INFOPATH for the configured prefix.

Add them to your shell with:
  eval "$(keg env)"

or let keg append that line to your login profile with --install.`,
	Example: `  eval "$(keg env)"
  keg env --shell fish | source
  keg env --install`,
	Args: cobra.NoArgs,
	RunE: runEnv,
}

func init() {
	envCmd.Flags().StringVar(&envFlagShell, "shell", "", "Shell syntax to print (default: from $SHELL)")
	envCmd.Flags().BoolVar(&envFlagInstall, "install", false, "Append the eval line to your shell profile")

	RootCmd.AddCommand(envCmd)
}

func runEnv(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if envFlagInstall {
		binary := "keg"
		if exe, err := os.Executable(); err == nil {
			binary = exe
		}
		added, file, err := shell.EnsurePathEntry(cfg.Prefix, binary)
		if err != nil {
			return err
		}
		switch {
		case added:
			fmt.Fprintf(out, "Added keg to %s\n", file)
			fmt.Fprintln(out, "Open a new shell or source that file to pick it up.")
		case file != "":
			fmt.Fprintf(out, "%s already loads the keg environment\n", file)
		default:
			fmt.Fprintf(out, "%s is already on PATH\n", filepath.Join(cfg.Prefix, "bin"))
		}
		return nil
	}

	sh := envFlagShell
	if sh == "" {
		sh = shell.Detect(os.Getenv("SHELL"))
	}
	fmt.Fprint(out, shell.ShellEnv(cfg.Prefix, sh))
	return nil
}
