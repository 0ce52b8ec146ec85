package app

import (
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "keg" {
		t.Errorf("expected Use to be 'keg', got '%s'", RootCmd.Use)
	}

	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}

	if !RootCmd.SilenceUsage || !RootCmd.SilenceErrors {
		t.Error("expected usage and errors to be silenced on the root command")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	expected := []string{
		"install", "upgrade", "outdated", "reinstall", "uninstall",
		"cleanup", "autoremove", "link", "unlink", "pin", "unpin",
		"list", "search", "info", "deps", "uses", "leaves",
		"config", "env", "history", "undo", "doctor",
	}

	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, name := range expected {
		if !found[name] {
			t.Errorf("expected command '%s' to be registered", name)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "prefix", "verbose", "no-color"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}

	if f := RootCmd.PersistentFlags().ShorthandLookup("v"); f == nil || f.Name != "verbose" {
		t.Error("expected -v to be the shorthand for --verbose")
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command  string
		flag     string
		defValue string
	}{
		{"install", "force", "false"},
		{"install", "cask", "false"},
		{"install", "format", "table"},
		{"uninstall", "version", ""},
		{"uninstall", "ignore-dependencies", "false"},
		{"uninstall", "no-snapshot", "false"},
		{"cleanup", "dry-run", "false"},
		{"autoremove", "dry-run", "false"},
		{"link", "overwrite", "false"},
		{"link", "force", "false"},
		{"list", "versions", "false"},
		{"list", "pinned", "false"},
		{"deps", "tree", "false"},
		{"deps", "installed", "false"},
		{"uses", "recursive", "false"},
		{"history", "limit", "20"},
		{"history", "formula", ""},
		{"undo", "list", "false"},
		{"undo", "yes", "false"},
		{"env", "shell", ""},
		{"env", "install", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			cmd, _, err := RootCmd.Find([]string{tt.command})
			if err != nil {
				t.Fatalf("command %s not found: %v", tt.command, err)
			}
			flag := cmd.Flags().Lookup(tt.flag)
			if flag == nil {
				t.Fatalf("expected --%s on %s", tt.flag, tt.command)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected --%s default %q, got %q", tt.flag, tt.defValue, flag.DefValue)
			}
		})
	}
}

func TestCommandAliases(t *testing.T) {
	tests := map[string]string{
		"rm":       "uninstall",
		"remove":   "uninstall",
		"ls":       "list",
		"shellenv": "env",
	}
	for alias, want := range tests {
		cmd, _, err := RootCmd.Find([]string{alias})
		if err != nil {
			t.Errorf("alias %s: %v", alias, err)
			continue
		}
		if cmd.Name() != want {
			t.Errorf("alias %s resolved to %s, want %s", alias, cmd.Name(), want)
		}
	}
}

func TestItemFailures(t *testing.T) {
	if err := itemFailures(0, 3, "install"); err != nil {
		t.Errorf("expected nil error with no failures, got %v", err)
	}

	err := itemFailures(1, 1, "install")
	if err == nil || err.Error() != "install failed" {
		t.Errorf("unexpected single-item error: %v", err)
	}

	err = itemFailures(2, 5, "upgrade")
	if err == nil || err.Error() != "upgrade failed for 2 of 5 formulae" {
		t.Errorf("unexpected batch error: %v", err)
	}
}

func TestFormatPackageDisplay(t *testing.T) {
	if got := formatPackageDisplay("jq", "1.7.1"); got != "jq@1.7.1" {
		t.Errorf("expected jq@1.7.1, got %s", got)
	}
	if got := formatPackageDisplay("jq", ""); got != "jq" {
		t.Errorf("expected no trailing @, got %s", got)
	}
}

func TestConfirmRestore(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out strings.Builder
		got := confirmRestore(&out, strings.NewReader(tt.input), 3)
		if got != tt.want {
			t.Errorf("confirmRestore(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Restore 3 packages?") {
			t.Errorf("expected prompt, got %q", out.String())
		}
	}
}
