// Package shell writes the environment that puts a keg prefix on PATH,
// both as shellenv output and as a line in the user's shell profile.
package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// marker tags the profile block EnsurePathEntry writes.
const marker = "# keg shellenv"

// Detect returns the shell name for a $SHELL-style path, defaulting to sh.
func Detect(shellPath string) string {
	switch name := filepath.Base(shellPath); name {
	case "bash", "zsh", "fish", "sh", "dash", "ksh":
		return name
	default:
		return "sh"
	}
}

// ShellEnv returns the statements that export HOMEBREW_PREFIX,
// HOMEBREW_CELLAR and the prefix search paths, in fish syntax when shell
// is "fish" and POSIX syntax otherwise.
func ShellEnv(prefix, shell string) string {
	cellar := filepath.Join(prefix, "Cellar")
	bin := filepath.Join(prefix, "bin")
	sbin := filepath.Join(prefix, "sbin")
	man := filepath.Join(prefix, "share", "man")
	info := filepath.Join(prefix, "share", "info")

	var sb strings.Builder
	if shell == "fish" {
		fmt.Fprintf(&sb, "set --global --export HOMEBREW_PREFIX %q;\n", prefix)
		fmt.Fprintf(&sb, "set --global --export HOMEBREW_CELLAR %q;\n", cellar)
		fmt.Fprintf(&sb, "fish_add_path --global --move --path %q %q;\n", bin, sbin)
		fmt.Fprintf(&sb, "if test -n \"$MANPATH[1]\"; set --global --export MANPATH '' $MANPATH; end;\n")
		fmt.Fprintf(&sb, "set --global --export MANPATH %q $MANPATH;\n", man)
		fmt.Fprintf(&sb, "set --global --export INFOPATH %q $INFOPATH;\n", info)
		return sb.String()
	}

	fmt.Fprintf(&sb, "export HOMEBREW_PREFIX=%q;\n", prefix)
	fmt.Fprintf(&sb, "export HOMEBREW_CELLAR=%q;\n", cellar)
	fmt.Fprintf(&sb, "export PATH=\"%s:%s${PATH+:$PATH}\";\n", bin, sbin)
	fmt.Fprintf(&sb, "[ -z \"${MANPATH-}\" ] || export MANPATH=\":${MANPATH#:}\";\n")
	fmt.Fprintf(&sb, "export MANPATH=\"%s${MANPATH+:$MANPATH}\";\n", man)
	fmt.Fprintf(&sb, "export INFOPATH=\"%s:${INFOPATH:-}\";\n", info)
	return sb.String()
}

// OnPath reports whether dir is an entry of $PATH.
func OnPath(dir string) bool {
	clean := filepath.Clean(dir)
	for _, entry := range filepath.SplitList(os.Getenv("PATH")) {
		if entry != "" && filepath.Clean(entry) == clean {
			return true
		}
	}
	return false
}

// ProfilePath returns the login profile keg edits for shell.
func ProfilePath(home, shell string) string {
	switch shell {
	case "zsh":
		return filepath.Join(home, ".zprofile")
	case "bash":
		return filepath.Join(home, ".bash_profile")
	case "fish":
		return filepath.Join(home, ".config", "fish", "conf.d", "keg.fish")
	default:
		return filepath.Join(home, ".profile")
	}
}

// EnsurePathEntry checks whether prefix/bin is on PATH and, if not, appends
// a line evaluating `<binary> env` to the profile of the user's $SHELL.
// Returns (added bool, configFile string, err error).
// added=false means nothing was written, either because the prefix is
// already on PATH or because the profile already carries the block.
func EnsurePathEntry(prefix, binary string) (added bool, configFile string, err error) {
	if OnPath(filepath.Join(prefix, "bin")) {
		return false, "", nil
	}

	shell := Detect(os.Getenv("SHELL"))
	home, err := os.UserHomeDir()
	if err != nil {
		return false, "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	configPath := ProfilePath(home, shell)

	// Needed for the fish conf.d path.
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return false, "", fmt.Errorf("cannot create config directory %s: %w", filepath.Dir(configPath), err)
	}

	if existing, readErr := os.ReadFile(configPath); readErr == nil {
		if strings.Contains(string(existing), marker) {
			return false, configPath, nil
		}
	}

	var line string
	if shell == "fish" {
		line = fmt.Sprintf("\n%s\n%s env --shell fish | source\n", marker, binary)
	} else {
		line = fmt.Sprintf("\n%s\neval \"$(%s env --shell %s)\"\n", marker, binary, shell)
	}

	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return false, "", fmt.Errorf("cannot open config file %s: %w", configPath, err)
	}
	defer f.Close()

	if _, err := fmt.Fprint(f, line); err != nil {
		return false, "", fmt.Errorf("cannot write to config file %s: %w", configPath, err)
	}
	return true, configPath, nil
}
