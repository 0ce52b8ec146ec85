// Package brew delegates operations the native pipeline cannot perform
// (source builds, third-party taps, casks) to an external Homebrew binary.
package brew

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when the external binary cannot be found.
var ErrUnavailable = errors.New("brew is not available")

// Delegate runs subcommands of an external package manager binary.
type Delegate struct {
	Binary string
	Logger zerolog.Logger
}

// New returns a Delegate for binary, defaulting to "brew".
func New(binary string, logger zerolog.Logger) *Delegate {
	if binary == "" {
		binary = "brew"
	}
	return &Delegate{Binary: binary, Logger: logger}
}

// Available returns nil when the binary can be resolved on PATH.
func (d *Delegate) Available() error {
	if _, err := exec.LookPath(d.Binary); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, d.Binary)
	}
	return nil
}

// Run executes `<binary> <subcommand> args...`. Success is exit status 0;
// on failure the error message is the captured stderr.
func (d *Delegate) Run(ctx context.Context, subcommand string, args ...string) error {
	_, err := d.output(ctx, subcommand, args...)
	return err
}

func (d *Delegate) output(ctx context.Context, subcommand string, args ...string) (string, error) {
	if err := d.Available(); err != nil {
		return "", err
	}

	argv := append([]string{subcommand}, args...)
	cmd := exec.CommandContext(ctx, d.Binary, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.Logger.Debug().Str("binary", d.Binary).Strs("args", argv).Msg("Delegating")
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s %s failed: %s", d.Binary, subcommand, msg)
	}
	return stdout.String(), nil
}

// Install installs formulae by name.
func (d *Delegate) Install(ctx context.Context, names ...string) error {
	return d.Run(ctx, "install", names...)
}

// InstallCask installs casks by token.
func (d *Delegate) InstallCask(ctx context.Context, tokens ...string) error {
	return d.Run(ctx, "install", append([]string{"--cask"}, tokens...)...)
}

func (d *Delegate) Upgrade(ctx context.Context, names ...string) error {
	return d.Run(ctx, "upgrade", names...)
}

func (d *Delegate) Reinstall(ctx context.Context, names ...string) error {
	return d.Run(ctx, "reinstall", names...)
}

func (d *Delegate) Uninstall(ctx context.Context, names ...string) error {
	return d.Run(ctx, "uninstall", names...)
}

// UninstallCask removes casks by token.
func (d *Delegate) UninstallCask(ctx context.Context, tokens ...string) error {
	return d.Run(ctx, "uninstall", append([]string{"--cask"}, tokens...)...)
}

// Tap adds a tap unless it is already present.
func (d *Delegate) Tap(ctx context.Context, tap string) error {
	exists, err := d.TapExists(ctx, tap)
	if err != nil {
		return fmt.Errorf("failed to check if tap exists: %w", err)
	}
	if exists {
		return nil
	}
	return d.Run(ctx, "tap", tap)
}

// TapExists checks if a tap is already added.
func (d *Delegate) TapExists(ctx context.Context, tap string) (bool, error) {
	out, err := d.output(ctx, "tap")
	if err != nil {
		return false, err
	}
	for _, t := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(t) == tap {
			return true, nil
		}
	}
	return false, nil
}

// Version returns the first line of `<binary> --version`.
func (d *Delegate) Version(ctx context.Context) (string, error) {
	out, err := d.output(ctx, "--version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, nil
}

// Prefix returns the external tool's installation prefix.
func (d *Delegate) Prefix(ctx context.Context) (string, error) {
	out, err := d.output(ctx, "--prefix")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// TapOf returns the tap part of a tap-qualified name ("user/repo/name"),
// or "" for a bare name.
func TapOf(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
