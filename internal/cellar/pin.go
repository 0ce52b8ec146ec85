package cellar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PinnedDir holds one symlink per pinned formula, pointing at the pinned version.
func (c *Cellar) PinnedDir() string {
	return filepath.Join(c.prefix, "var", "homebrew", "pinned")
}

// IsPinned reports whether name is pinned. Pinned formulae are skipped by
// upgrade and reinstall.
func (c *Cellar) IsPinned(name string) bool {
	_, err := os.Lstat(filepath.Join(c.PinnedDir(), name))
	return err == nil
}

// PinnedVersion returns the version a pin points at.
func (c *Cellar) PinnedVersion(name string) (string, bool) {
	target, err := os.Readlink(filepath.Join(c.PinnedDir(), name))
	if err != nil {
		return "", false
	}
	return filepath.Base(target), true
}

// Pin records name as pinned at ver.
func (c *Cellar) Pin(name, ver string) error {
	if _, err := os.Stat(c.VersionPath(name, ver)); err != nil {
		return fmt.Errorf("%s %s: %w", name, ver, ErrNotInstalled)
	}
	dir := c.PinnedDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	link := filepath.Join(dir, name)
	target, err := filepath.Rel(dir, c.VersionPath(name, ver))
	if err != nil {
		return fmt.Errorf("failed to compute pin target: %w", err)
	}
	if existing, err := os.Readlink(link); err == nil && existing == target {
		return nil
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to replace pin for %s: %w", name, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to pin %s: %w", name, err)
	}
	return nil
}

// Unpin removes the pin for name. Unpinning an unpinned formula is a no-op.
func (c *Cellar) Unpin(name string) error {
	err := os.Remove(filepath.Join(c.PinnedDir(), name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to unpin %s: %w", name, err)
	}
	return nil
}
