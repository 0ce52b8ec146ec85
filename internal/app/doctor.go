package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/output"
	"github.com/blackwell-systems/keg/internal/shell"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common issues with the prefix and keg's setup",
	Long: `Runs diagnostic checks on the prefix and keg's configuration.

Checks:
  • Prefix exists and is writable
  • Installed receipts are readable
  • Prefix bin directory is on PATH
  • No broken symlinks point into the Cellar
  • brew is available for delegated installs
  • History database is accessible`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// checkResult tallies critical and warning-level findings.
type checkResult struct {
	out      io.Writer
	critical int
	warnings int
}

func (c *checkResult) ok(format string, a ...any) {
	fmt.Fprintf(c.out, "%s %s\n", output.Success("✓"), fmt.Sprintf(format, a...))
}

func (c *checkResult) warn(action, format string, a ...any) {
	c.warnings++
	fmt.Fprintf(c.out, "%s %s\n", output.Warning("⚠"), fmt.Sprintf(format, a...))
	if action != "" {
		fmt.Fprintf(c.out, "  Action: %s\n", action)
	}
}

func (c *checkResult) fail(action, format string, a ...any) {
	c.critical++
	fmt.Fprintf(c.out, "%s %s\n", output.Error("✗"), fmt.Sprintf(format, a...))
	if action != "" {
		fmt.Fprintf(c.out, "  Action: %s\n", action)
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Running keg diagnostics...")
	fmt.Fprintln(out)

	s, err := openSession()
	if err != nil {
		fmt.Fprintf(out, "%s Configuration error: %v\n", output.Error("✗"), err)
		return fmt.Errorf("diagnostics failed")
	}
	defer s.Close()

	c := &checkResult{out: out}
	prefix := s.cfg.Prefix

	// Check 1: prefix exists and is writable
	if info, err := os.Stat(prefix); err != nil {
		c.fail("Create it or set 'prefix' in "+configFileHint(s.cfg.Path), "Prefix %s does not exist", prefix)
	} else if !info.IsDir() {
		c.fail("", "Prefix %s is not a directory", prefix)
	} else if err := probeWritable(prefix); err != nil {
		c.fail("Fix ownership of the prefix: sudo chown -R $(whoami) "+prefix, "Prefix %s is not writable", prefix)
	} else {
		c.ok("Prefix: %s", prefix)
	}
	c.ok("Bottle platform: %s", s.downloader.Platform())

	// Check 2: installed receipts
	pkgs, err := s.cellar.ListInstalled()
	if err != nil {
		c.fail("", "Cannot read Cellar: %v", err)
	} else {
		missing := 0
		for _, p := range pkgs {
			if p.Receipt == nil {
				missing++
			}
		}
		if missing > 0 {
			c.warn("Reinstall the affected formulae", "%d installed versions have no readable receipt", missing)
		} else {
			c.ok("%d installed versions with receipts", len(pkgs))
		}
	}

	// Check 3: PATH, warning only
	bin := filepath.Join(prefix, "bin")
	if shell.OnPath(bin) {
		c.ok("%s is on PATH", bin)
	} else {
		c.warn("Run 'keg env --install'", "%s is not on PATH", bin)
	}

	// Check 4: broken links, warning only
	if broken, err := s.linker.PruneBroken(true); err != nil {
		c.warn("", "Cannot scan prefix links: %v", err)
	} else if len(broken) > 0 {
		c.warn("Run 'keg cleanup'", "%d broken symlinks in the prefix", len(broken))
	} else {
		c.ok("No broken symlinks")
	}

	// Check 5: delegation target, warning only
	if err := s.delegate.Available(); err != nil {
		c.warn("Install Homebrew or set 'brew_path'", "brew not found; formulae without bottles and casks cannot be installed")
	} else {
		c.ok("brew available: %s", s.delegate.Binary)
	}

	// Check 6: history, warning only
	switch {
	case !s.cfg.History:
		c.ok("History disabled")
	case s.store == nil:
		c.warn("Check permissions on "+s.cfg.StateDir, "History database unavailable at %s", s.cfg.DBPath())
	default:
		n, err := s.store.HistoryCount()
		if err != nil {
			c.warn("", "Cannot read history: %v", err)
		} else {
			c.ok("History database: %d entries", n)
		}
	}

	fmt.Fprintln(out)
	if c.critical > 0 {
		fmt.Fprintf(out, "Found %d critical issue(s) and %d warning(s).\n", c.critical, c.warnings)
		return fmt.Errorf("diagnostics failed")
	}
	if c.warnings > 0 {
		fmt.Fprintf(out, "Found %d warning(s). keg is functional but not fully configured.\n", c.warnings)
		return nil
	}
	fmt.Fprintf(out, "%s All checks passed!\n", output.Success("✓"))
	return nil
}

// probeWritable creates and removes a temp file in dir.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".keg-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func configFileHint(path string) string {
	if path == "" {
		return "the config file"
	}
	return path
}
