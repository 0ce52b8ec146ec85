package installer

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/blackwell-systems/keg/internal/bottle"
	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/version"
)

// CleanupItem is one version selected for removal.
type CleanupItem struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Path    string `json:"path" yaml:"path"`
	Size    int64  `json:"size" yaml:"size"`
}

// CleanupReport summarises a cleanup run.
type CleanupReport struct {
	DryRun  bool          `json:"dry_run" yaml:"dry_run"`
	Removed []CleanupItem `json:"removed" yaml:"removed"`
	Freed   int64         `json:"freed_bytes" yaml:"freed_bytes"`
	// BrokenLinks are dangling prefix symlinks into the Cellar.
	BrokenLinks []string `json:"broken_links,omitempty" yaml:"broken_links,omitempty"`
	// Downloads are cached bottles for versions no longer installed.
	Downloads []CleanupItem `json:"downloads,omitempty" yaml:"downloads,omitempty"`
	Errors    []error       `json:"-" yaml:"-"`
}

// Err joins the per-formula errors.
func (r *CleanupReport) Err() error { return joinErrs(r.Errors) }

// cacheLister is implemented by downloaders with an on-disk cache.
type cacheLister interface {
	ListCache() ([]bottle.CachedBottle, error)
}

// Cleanup removes every installed version except the newest and the linked
// one. With no names it considers every installed formula, and also prunes
// broken prefix links and stale cached bottles. Errors on one formula are
// collected and cleanup continues with the next. Running it twice in a row
// removes nothing the second time.
func (m *Manager) Cleanup(ctx context.Context, names []string, dryRun bool) *CleanupReport {
	report := &CleanupReport{DryRun: dryRun}

	groups, err := m.groupInstalled(names)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return report
	}

	formulae := make([]string, 0, len(groups))
	for n := range groups {
		formulae = append(formulae, n)
	}
	sort.Strings(formulae)

	for _, name := range formulae {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err)
			return report
		}
		if err := m.cleanupFormula(name, groups[name], dryRun, report); err != nil {
			report.Errors = append(report.Errors, err)
		}
	}

	if len(names) == 0 {
		broken, err := m.linker.PruneBroken(dryRun)
		if err != nil {
			report.Errors = append(report.Errors, err)
		}
		report.BrokenLinks = broken

		if err := m.pruneDownloads(dryRun, report); err != nil {
			report.Errors = append(report.Errors, err)
		}
	}
	return report
}

func (m *Manager) groupInstalled(names []string) (map[string][]cellar.InstalledPackage, error) {
	groups := map[string][]cellar.InstalledPackage{}
	if len(names) == 0 {
		pkgs, err := m.cellar.ListInstalled()
		if err != nil {
			return nil, err
		}
		for _, p := range pkgs {
			groups[p.Name] = append(groups[p.Name], p)
		}
		return groups, nil
	}

	var missing []error
	for _, n := range uniq(names) {
		n = cellar.ShortName(n)
		pkgs, err := m.cellar.InstalledVersions(n)
		if err != nil {
			return nil, err
		}
		if len(pkgs) == 0 {
			missing = append(missing, fmt.Errorf("%s: %w", n, cellar.ErrNotInstalled))
			continue
		}
		groups[n] = pkgs
	}
	if len(groups) == 0 && len(missing) > 0 {
		return nil, joinErrs(missing)
	}
	for _, err := range missing {
		m.log.Warn().Err(err).Msg("Skipping cleanup")
	}
	return groups, nil
}

// keepSet is the newest version plus the linked version if different.
func (m *Manager) keepSet(name string, pkgs []cellar.InstalledPackage) map[string]bool {
	vs := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		vs = append(vs, p.Version)
	}
	keep := map[string]bool{version.Newest(vs): true}
	if v, ok := m.linker.LinkedVersion(name); ok {
		keep[v] = true
	}
	return keep
}

func (m *Manager) cleanupFormula(name string, pkgs []cellar.InstalledPackage, dryRun bool, report *CleanupReport) error {
	if len(pkgs) < 2 {
		return nil
	}
	keep := m.keepSet(name, pkgs)

	var stale []cellar.InstalledPackage
	for _, p := range pkgs {
		if !keep[p.Version] {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return version.Compare(stale[i].Version, stale[j].Version) == version.Greater
	})

	for _, p := range stale {
		size, err := cellar.DirSize(p.Path)
		if err != nil {
			return fmt.Errorf("%s %s: %w", name, p.Version, err)
		}
		if !dryRun {
			if _, err := m.linker.UnlinkFormula(name, p.Version); err != nil {
				return fmt.Errorf("%s %s: failed to unlink: %w", name, p.Version, err)
			}
			if err := m.cellar.Remove(p); err != nil {
				return fmt.Errorf("%s %s: %w", name, p.Version, err)
			}
			m.record(Event{Action: "cleanup", Name: name, Version: p.Version, Backend: BackendNative, Outcome: OutcomeRemoved})
		}
		report.Removed = append(report.Removed, CleanupItem{Name: name, Version: p.Version, Path: p.Path, Size: size})
		report.Freed += size
	}
	return nil
}

// pruneDownloads removes cached bottles whose version is not installed.
func (m *Manager) pruneDownloads(dryRun bool, report *CleanupReport) error {
	lister, ok := m.downloader.(cacheLister)
	if !ok {
		return nil
	}
	cached, err := lister.ListCache()
	if err != nil {
		return err
	}
	for _, c := range cached {
		if _, err := os.Stat(m.cellar.VersionPath(c.Name, c.Version)); err == nil {
			continue
		}
		if !dryRun {
			if err := os.Remove(c.Path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", c.Path, err)
			}
		}
		report.Downloads = append(report.Downloads, CleanupItem{Name: c.Name, Version: c.Version, Path: c.Path, Size: c.Size})
		report.Freed += c.Size
	}
	return nil
}
