// Package cellar reads and mutates the on-disk Cellar: one directory per
// installed formula version under <prefix>/Cellar/<name>/<version>.
//
// The filesystem is the only source of truth. Nothing is cached between
// calls, so every query re-reads the directory tree.
package cellar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/version"
)

// ErrNotInstalled is returned when a formula has no version in the Cellar.
var ErrNotInstalled = errors.New("not installed")

// InstalledPackage is one <name>/<version> directory pair in the Cellar.
type InstalledPackage struct {
	Name    string
	Version string
	// Path is always <Cellar>/<Name>/<Version>.
	Path string
	// Receipt is nil when INSTALL_RECEIPT.json is missing or unparsable.
	Receipt *Receipt
}

// OnRequest reports whether the user asked for this package explicitly.
// Packages without a receipt are treated as requested so they are never
// autoremoved by accident.
func (p InstalledPackage) OnRequest() bool {
	if p.Receipt == nil {
		return true
	}
	return p.Receipt.InstalledOnRequest
}

// Cellar is a handle on <prefix>/Cellar.
type Cellar struct {
	prefix string
	log    zerolog.Logger
}

// DetectPrefix returns the platform's standard installation prefix.
func DetectPrefix() string {
	return prefixFor(runtime.GOOS, runtime.GOARCH)
}

func prefixFor(goos, goarch string) string {
	switch {
	case goos == "darwin" && goarch == "arm64":
		return "/opt/homebrew"
	case goos == "darwin":
		return "/usr/local"
	default:
		return "/home/linuxbrew/.linuxbrew"
	}
}

// New returns a Cellar rooted at prefix.
func New(prefix string, logger zerolog.Logger) *Cellar {
	return &Cellar{prefix: filepath.Clean(prefix), log: logger}
}

// Prefix returns the installation prefix.
func (c *Cellar) Prefix() string { return c.prefix }

// Path returns <prefix>/Cellar.
func (c *Cellar) Path() string { return filepath.Join(c.prefix, "Cellar") }

// VersionPath returns <prefix>/Cellar/<name>/<version>.
func (c *Cellar) VersionPath(name, ver string) string {
	return filepath.Join(c.Path(), name, ver)
}

// ListInstalled enumerates every installed formula version in the order the
// directory listing returns them. A missing Cellar yields an empty result.
// Unreadable entries are logged and skipped.
func (c *Cellar) ListInstalled() ([]InstalledPackage, error) {
	entries, err := os.ReadDir(c.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cellar %s: %w", c.Path(), err)
	}

	var pkgs []InstalledPackage
	for _, entry := range entries {
		if !entry.IsDir() || hidden(entry.Name()) {
			continue
		}
		versions, err := c.listVersions(entry.Name())
		if err != nil {
			c.log.Warn().Err(err).Str("formula", entry.Name()).Msg("Skipping unreadable cellar entry")
			continue
		}
		pkgs = append(pkgs, versions...)
	}
	return pkgs, nil
}

// InstalledVersions returns the installed versions of one formula. A formula
// that is not installed yields an empty result and no error.
func (c *Cellar) InstalledVersions(name string) ([]InstalledPackage, error) {
	pkgs, err := c.listVersions(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return pkgs, nil
}

func (c *Cellar) listVersions(name string) ([]InstalledPackage, error) {
	dir := filepath.Join(c.Path(), name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var pkgs []InstalledPackage
	for _, entry := range entries {
		if !entry.IsDir() || hidden(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		empty, err := isEmptyDir(path)
		if err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable version directory")
			continue
		}
		if empty {
			continue
		}

		pkg := InstalledPackage{Name: name, Version: entry.Name(), Path: path}
		receipt, err := ReadReceipt(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.log.Warn().Err(err).Str("formula", name).Str("version", pkg.Version).Msg("Ignoring unreadable install receipt")
			}
		} else {
			pkg.Receipt = receipt
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// IsInstalled reports whether any version of name is in the Cellar.
func (c *Cellar) IsInstalled(name string) bool {
	pkgs, err := c.InstalledVersions(name)
	return err == nil && len(pkgs) > 0
}

// Newest returns the greatest installed version of name.
func (c *Cellar) Newest(name string) (InstalledPackage, error) {
	pkgs, err := c.InstalledVersions(name)
	if err != nil {
		return InstalledPackage{}, err
	}
	if len(pkgs) == 0 {
		return InstalledPackage{}, fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	best := pkgs[0]
	for _, p := range pkgs[1:] {
		if version.Compare(p.Version, best.Version) == version.Greater {
			best = p
		}
	}
	return best, nil
}

// Remove deletes the version directory and, when it was the last one, the
// formula directory.
func (c *Cellar) Remove(pkg InstalledPackage) error {
	if err := makeTreeWritable(pkg.Path); err != nil {
		c.log.Debug().Err(err).Str("path", pkg.Path).Msg("Could not relax permissions before removal")
	}
	if err := os.RemoveAll(pkg.Path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", pkg.Path, err)
	}

	parent := filepath.Join(c.Path(), pkg.Name)
	empty, err := isEmptyDir(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to inspect %s: %w", parent, err)
	}
	if empty {
		if err := os.Remove(parent); err != nil {
			return fmt.Errorf("failed to remove %s: %w", parent, err)
		}
	}
	return nil
}

// DirSize sums the sizes of regular files under path. Symlinks are not followed.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", path, err)
	}
	return total, nil
}

// makeTreeWritable adds owner write permission to directories so read-only
// bottle contents can be removed.
func makeTreeWritable(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().Perm()&0200 == 0 {
			return os.Chmod(path, info.Mode().Perm()|0200)
		}
		return nil
	})
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
