// Package linker makes an installed version visible under the prefix by
// creating one relative symlink per file, and keeps the opt/ and
// var/homebrew/linked/ bookkeeping links in step.
package linker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

// LinkDirs are the version subdirectories whose contents get linked.
var LinkDirs = []string{"bin", "sbin", "lib", "include", "share", "etc", "Frameworks"}

// DefaultSkip lists files bottles ship that must never be linked into the
// shared prefix, in gitignore syntax relative to the version directory.
var DefaultSkip = []string{
	".DS_Store",
	"share/info/dir",
	"lib/charset.alias",
	"share/locale/locale.alias",
	"**/perllocal.pod",
	"*.pyc",
}

// ErrConflict is matched by *ConflictError.
var ErrConflict = errors.New("link conflict")

// ConflictError lists prefix paths owned by something other than the
// formula being linked.
type ConflictError struct {
	Formula string
	Paths   []string
}

func (e *ConflictError) Error() string {
	if len(e.Paths) == 1 {
		return fmt.Sprintf("cannot link %s: %s already exists", e.Formula, e.Paths[0])
	}
	return fmt.Sprintf("cannot link %s: %d files already exist (first: %s)", e.Formula, len(e.Paths), e.Paths[0])
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Options configures a Linker.
type Options struct {
	// Skip adds gitignore patterns to DefaultSkip.
	Skip   []string
	Logger zerolog.Logger
}

// LinkOptions controls a single LinkFormula call.
type LinkOptions struct {
	// Overwrite replaces conflicting files instead of failing.
	Overwrite bool
	// DryRun reports what would be linked without touching the prefix.
	DryRun bool
}

// Linker manages symlinks for one prefix.
type Linker struct {
	prefix string
	cellar string
	skip   *ignore.GitIgnore
	log    zerolog.Logger
}

// New returns a Linker for prefix whose Cellar is cellarPath.
func New(prefix, cellarPath string, opts Options) *Linker {
	patterns := append(append([]string{}, DefaultSkip...), opts.Skip...)
	return &Linker{
		prefix: filepath.Clean(prefix),
		cellar: filepath.Clean(cellarPath),
		skip:   ignore.CompileIgnoreLines(patterns...),
		log:    opts.Logger,
	}
}

type plannedLink struct {
	source string // file inside the version directory
	target string // path under the prefix
	// replace is set when target exists and must be removed first.
	replace bool
	// dir marks a real directory to create in place of target.
	dir bool
}

// replaceable reports whether an existing prefix entry may be removed while
// linking: a symlink into this formula's Cellar tree, or a dangling symlink.
func (l *Linker) replaceable(target string, info fs.FileInfo, owned string) bool {
	if info.Mode()&fs.ModeSymlink == 0 {
		return false
	}
	if strings.HasPrefix(resolve(target), owned) {
		return true
	}
	_, err := os.Stat(target)
	return err != nil
}

// LinkFormula links every file of name/version into the prefix. Links left
// by any other version of the same formula are removed first, so at most one
// version is ever linked. If a prefix path is owned by something else the
// call fails with a *ConflictError and changes nothing, unless
// opts.Overwrite is set.
func (l *Linker) LinkFormula(name, version string, opts LinkOptions) ([]string, error) {
	versionDir := filepath.Join(l.cellar, name, version)
	if info, err := os.Stat(versionDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("cannot link %s %s: %s is not installed", name, version, versionDir)
	}

	plan, conflicts, err := l.plan(name, versionDir)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 && !opts.Overwrite {
		return nil, &ConflictError{Formula: name, Paths: conflicts}
	}

	linked := make([]string, 0, len(plan))
	for _, p := range plan {
		if !p.dir {
			linked = append(linked, p.target)
		}
	}
	if opts.DryRun {
		return linked, nil
	}

	if err := l.unlinkOtherVersions(name, version); err != nil {
		return nil, err
	}

	for _, p := range plan {
		if err := l.createLink(p); err != nil {
			return nil, err
		}
	}

	if err := l.writeMarker(name, version); err != nil {
		return nil, err
	}
	if err := l.OptLink(name, version); err != nil {
		return nil, err
	}

	l.log.Debug().Str("formula", name).Str("version", version).Int("links", len(linked)).Msg("Linked")
	return linked, nil
}

func (l *Linker) plan(name, versionDir string) ([]plannedLink, []string, error) {
	owned := filepath.Join(l.cellar, name) + string(filepath.Separator)

	var plan []plannedLink
	var conflicts []string
	var replacedDirs []string
	for _, dir := range LinkDirs {
		root := filepath.Join(versionDir, dir)
		if _, err := os.Lstat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(versionDir, path)
			if err != nil {
				return err
			}
			if l.skip.MatchesPath(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			target := filepath.Join(l.prefix, rel)
			if underAny(target, replacedDirs) {
				if d.IsDir() {
					return nil
				}
				plan = append(plan, plannedLink{source: path, target: target})
				return nil
			}
			info, err := os.Lstat(target)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			exists := err == nil

			if d.IsDir() {
				if !exists || info.IsDir() {
					return nil
				}
				// A directory symlink left by an earlier whole-directory
				// link of this formula is turned back into a real directory.
				if info.Mode()&fs.ModeSymlink != 0 && strings.HasPrefix(resolve(target)+string(filepath.Separator), owned) {
					plan = append(plan, plannedLink{target: target, replace: true, dir: true})
					replacedDirs = append(replacedDirs, target)
					return nil
				}
				conflicts = append(conflicts, target)
				return filepath.SkipDir
			}

			p := plannedLink{source: path, target: target, replace: exists}
			if exists && !l.replaceable(target, info, owned) {
				conflicts = append(conflicts, target)
			}
			plan = append(plan, p)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s: %w", root, err)
		}
	}

	sort.Strings(conflicts)
	return plan, conflicts, nil
}

func (l *Linker) createLink(p plannedLink) error {
	if p.dir {
		if err := os.Remove(p.target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to replace %s: %w", p.target, err)
		}
		if err := os.MkdirAll(p.target, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.target, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(p.target), err)
	}
	if p.replace {
		if err := os.Remove(p.target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to replace %s: %w", p.target, err)
		}
	}
	rel, err := filepath.Rel(filepath.Dir(p.target), p.source)
	if err != nil {
		return fmt.Errorf("failed to compute link for %s: %w", p.target, err)
	}
	if err := os.Symlink(rel, p.target); err != nil {
		return fmt.Errorf("failed to link %s: %w", p.target, err)
	}
	return nil
}

func (l *Linker) unlinkOtherVersions(name, keep string) error {
	entries, err := os.ReadDir(filepath.Join(l.cellar, name))
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if _, err := l.UnlinkFormula(name, e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// UnlinkFormula removes every prefix symlink that points into name/version
// and prunes prefix directories left empty. Unlinking a version that is not
// linked removes nothing and is not an error.
func (l *Linker) UnlinkFormula(name, version string) ([]string, error) {
	versionDir := filepath.Join(l.cellar, name, version)

	var removed []string
	parents := map[string]bool{}
	for _, dir := range LinkDirs {
		root := filepath.Join(versionDir, dir)
		if _, err := os.Lstat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(versionDir, path)
			if err != nil {
				return err
			}
			target := filepath.Join(l.prefix, rel)
			info, err := os.Lstat(target)
			if err != nil || info.Mode()&fs.ModeSymlink == 0 {
				return nil
			}
			if resolve(target) != path {
				return nil
			}
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("failed to unlink %s: %w", target, err)
			}
			removed = append(removed, target)
			parents[filepath.Dir(target)] = true
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to unlink %s %s: %w", name, version, err)
		}
	}

	l.pruneEmpty(parents)

	if v, ok := l.LinkedKeg(name); ok && v == version {
		if err := os.Remove(l.markerPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to clear link marker for %s: %w", name, err)
		}
	}

	if len(removed) > 0 {
		l.log.Debug().Str("formula", name).Str("version", version).Int("links", len(removed)).Msg("Unlinked")
	}
	return removed, nil
}

// pruneEmpty removes emptied directories below the top-level link dirs.
func (l *Linker) pruneEmpty(dirs map[string]bool) {
	keep := map[string]bool{l.prefix: true}
	for _, d := range LinkDirs {
		keep[filepath.Join(l.prefix, d)] = true
	}

	list := make([]string, 0, len(dirs))
	for d := range dirs {
		list = append(list, d)
	}
	// Deepest first so parents are seen after their children.
	sort.Slice(list, func(i, j int) bool { return len(list[i]) > len(list[j]) })

	for _, dir := range list {
		for d := dir; !keep[d] && strings.HasPrefix(d, l.prefix+string(filepath.Separator)); d = filepath.Dir(d) {
			if err := os.Remove(d); err != nil {
				break
			}
		}
	}
}

// OptLink points <prefix>/opt/<name> at the version directory.
func (l *Linker) OptLink(name, version string) error {
	return l.pointAt(filepath.Join(l.prefix, "opt", name), filepath.Join(l.cellar, name, version))
}

// UnoptLink removes <prefix>/opt/<name>.
func (l *Linker) UnoptLink(name string) error {
	err := os.Remove(filepath.Join(l.prefix, "opt", name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove opt link for %s: %w", name, err)
	}
	return nil
}

// OptVersion returns the version the opt link points at.
func (l *Linker) OptVersion(name string) (string, bool) {
	return l.versionFromLink(filepath.Join(l.prefix, "opt", name), name)
}

// LinkedKeg returns the version recorded as linked into the prefix.
func (l *Linker) LinkedKeg(name string) (string, bool) {
	return l.versionFromLink(l.markerPath(name), name)
}

// LinkedVersion returns the version considered current for name: the
// linked keg, or failing that the opt link target.
func (l *Linker) LinkedVersion(name string) (string, bool) {
	if v, ok := l.LinkedKeg(name); ok {
		return v, true
	}
	return l.OptVersion(name)
}

func (l *Linker) markerPath(name string) string {
	return filepath.Join(l.prefix, "var", "homebrew", "linked", name)
}

func (l *Linker) writeMarker(name, version string) error {
	return l.pointAt(l.markerPath(name), filepath.Join(l.cellar, name, version))
}

// versionFromLink reads a bookkeeping link and returns the version segment
// if it still resolves to a directory of name.
func (l *Linker) versionFromLink(link, name string) (string, bool) {
	if _, err := os.Lstat(link); err != nil {
		return "", false
	}
	dest := resolve(link)
	if filepath.Dir(dest) != filepath.Join(l.cellar, name) {
		return "", false
	}
	if info, err := os.Stat(dest); err != nil || !info.IsDir() {
		return "", false
	}
	return filepath.Base(dest), true
}

// pointAt makes link a relative symlink to dest, replacing what was there.
func (l *Linker) pointAt(link, dest string) error {
	rel, err := filepath.Rel(filepath.Dir(link), dest)
	if err != nil {
		return fmt.Errorf("failed to compute link for %s: %w", link, err)
	}
	if current, err := os.Readlink(link); err == nil && current == rel {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(link), err)
	}
	if info, err := os.Lstat(link); err == nil {
		if info.IsDir() {
			return fmt.Errorf("cannot replace directory %s with a link", link)
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to replace %s: %w", link, err)
		}
	}
	if err := os.Symlink(rel, link); err != nil {
		return fmt.Errorf("failed to create %s: %w", link, err)
	}
	return nil
}

// PruneBroken removes dangling prefix symlinks that pointed into the Cellar.
func (l *Linker) PruneBroken(dryRun bool) ([]string, error) {
	cellarPrefix := l.cellar + string(filepath.Separator)
	var pruned []string
	parents := map[string]bool{}

	for _, dir := range LinkDirs {
		root := filepath.Join(l.prefix, dir)
		if _, err := os.Lstat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			if !strings.HasPrefix(resolve(path), cellarPrefix) {
				return nil
			}
			if _, err := os.Stat(path); err == nil {
				return nil
			}
			pruned = append(pruned, path)
			if dryRun {
				return nil
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
			parents[filepath.Dir(path)] = true
			return nil
		})
		if err != nil {
			return pruned, err
		}
	}

	if !dryRun {
		l.pruneEmpty(parents)
	}
	return pruned, nil
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// resolve returns the cleaned absolute destination of a symlink, without
// following further links.
func resolve(link string) string {
	dest, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(link), dest)
	}
	return filepath.Clean(dest)
}
