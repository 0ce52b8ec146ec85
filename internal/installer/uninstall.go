package installer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/graph"
	"github.com/blackwell-systems/keg/internal/version"
)

// UninstallOptions tunes Uninstall.
type UninstallOptions struct {
	// Version removes only this version instead of all of them.
	Version string
	// IgnoreDependencies removes the formula even if others depend on it.
	IgnoreDependencies bool
}

// UninstallResult describes what Uninstall removed.
type UninstallResult struct {
	Name     string        `json:"name" yaml:"name"`
	Removed  []string      `json:"removed_versions" yaml:"removed_versions"`
	Unlinked int           `json:"unlinked" yaml:"unlinked"`
	Freed    int64         `json:"freed_bytes" yaml:"freed_bytes"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
	Err      error         `json:"-" yaml:"-"`
}

// Uninstall unlinks and removes installed versions of name. It refuses when
// other installed formulae declare name as a runtime dependency, unless
// opts.IgnoreDependencies is set. Filesystem errors are returned as is.
func (m *Manager) Uninstall(ctx context.Context, name string, opts UninstallOptions) (*UninstallResult, error) {
	start := m.now()
	name = cellar.ShortName(name)
	res := &UninstallResult{Name: name}

	err := m.uninstall(name, opts, res)
	res.Elapsed = m.now().Sub(start)
	res.Err = err

	outcome := OutcomeRemoved
	if err != nil {
		outcome = OutcomeFailed
	}
	m.record(Event{
		Action:  "uninstall",
		Name:    name,
		Version: strings.Join(res.Removed, ","),
		Backend: BackendNative,
		Outcome: outcome,
		Err:     err,
		Elapsed: res.Elapsed,
	})
	return res, err
}

func (m *Manager) uninstall(name string, opts UninstallOptions, res *UninstallResult) error {
	pkgs, err := m.cellar.InstalledVersions(name)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("%s: %w", name, cellar.ErrNotInstalled)
	}

	targets := pkgs
	if opts.Version != "" {
		targets = nil
		for _, p := range pkgs {
			if p.Version == opts.Version {
				targets = append(targets, p)
			}
		}
		if len(targets) == 0 {
			return fmt.Errorf("%s %s: %w", name, opts.Version, cellar.ErrNotInstalled)
		}
	}

	if !opts.IgnoreDependencies && len(targets) == len(pkgs) {
		all, err := m.cellar.ListInstalled()
		if err != nil {
			return err
		}
		if deps := graph.Build(all).Dependents(name); len(deps) > 0 {
			return fmt.Errorf("%s is required by %s: %w", name, strings.Join(deps, ", "), ErrDependents)
		}
	}

	return m.removeVersions(name, targets, len(targets) == len(pkgs), res)
}

// removeVersions runs unlink then remove for each target. When all is set
// the opt link, linked marker and pin go too; otherwise the opt link is
// moved to the newest remaining version if it pointed at a removed one.
func (m *Manager) removeVersions(name string, targets []cellar.InstalledPackage, all bool, res *UninstallResult) error {
	// The opt link stops resolving once its target is gone.
	optVersion, hasOpt := m.linker.OptVersion(name)

	for _, p := range targets {
		unlinked, err := m.linker.UnlinkFormula(name, p.Version)
		if err != nil {
			return fmt.Errorf("failed to unlink %s %s: %w", name, p.Version, err)
		}
		res.Unlinked += len(unlinked)

		if size, err := cellar.DirSize(p.Path); err == nil {
			res.Freed += size
		}
		if err := m.cellar.Remove(p); err != nil {
			return err
		}
		res.Removed = append(res.Removed, p.Version)
		m.log.Info().Str("formula", name).Str("version", p.Version).Msg("Removed")
	}

	if all {
		if err := m.linker.UnoptLink(name); err != nil {
			return err
		}
		if m.cellar.IsPinned(name) {
			if err := m.cellar.Unpin(name); err != nil {
				return err
			}
		}
		return nil
	}

	if hasOpt && contains(res.Removed, optVersion) {
		remaining, err := m.cellar.InstalledVersions(name)
		if err != nil {
			return err
		}
		if len(remaining) > 0 {
			vs := make([]string, 0, len(remaining))
			for _, p := range remaining {
				vs = append(vs, p.Version)
			}
			if err := m.linker.OptLink(name, version.Newest(vs)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AutoremoveReport lists the formulae autoremove selected and what
// happened to each.
type AutoremoveReport struct {
	DryRun  bool              `json:"dry_run" yaml:"dry_run"`
	Removed []UninstallResult `json:"removed" yaml:"removed"`
	Freed   int64             `json:"freed_bytes" yaml:"freed_bytes"`
}

// Err joins the per-formula removal errors.
func (r *AutoremoveReport) Err() error {
	errs := make([]error, 0, len(r.Removed))
	for _, res := range r.Removed {
		errs = append(errs, res.Err)
	}
	return joinErrs(errs)
}

// Names returns the selected formula names.
func (r *AutoremoveReport) Names() []string {
	names := make([]string, 0, len(r.Removed))
	for _, res := range r.Removed {
		names = append(names, res.Name)
	}
	return names
}

// AutoremoveCandidates returns installed formulae that were neither
// requested nor are reachable from a requested formula through receipt
// runtime dependencies. Only the Cellar is read.
func (m *Manager) AutoremoveCandidates() ([]cellar.InstalledPackage, error) {
	pkgs, err := m.cellar.ListInstalled()
	if err != nil {
		return nil, err
	}
	names := graph.Build(pkgs).Unrequired()
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var out []cellar.InstalledPackage
	for _, p := range pkgs {
		if drop[p.Name] {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Autoremove removes every autoremove candidate in name order. Dry run
// computes the same selection and sizes without touching the filesystem.
// A failure on one formula does not stop the others.
func (m *Manager) Autoremove(ctx context.Context, dryRun bool) (*AutoremoveReport, error) {
	cands, err := m.AutoremoveCandidates()
	if err != nil {
		return nil, err
	}
	report := &AutoremoveReport{DryRun: dryRun}

	byName := map[string][]cellar.InstalledPackage{}
	var order []string
	for _, p := range cands {
		if _, ok := byName[p.Name]; !ok {
			order = append(order, p.Name)
		}
		byName[p.Name] = append(byName[p.Name], p)
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := UninstallResult{Name: name}
		if dryRun {
			for _, p := range byName[name] {
				res.Removed = append(res.Removed, p.Version)
				if size, err := cellar.DirSize(p.Path); err == nil {
					res.Freed += size
				}
			}
		} else {
			start := m.now()
			res.Err = m.removeVersions(name, byName[name], true, &res)
			res.Elapsed = m.now().Sub(start)
			outcome := OutcomeRemoved
			if res.Err != nil {
				outcome = OutcomeFailed
			}
			m.record(Event{
				Action:  "autoremove",
				Name:    name,
				Version: strings.Join(res.Removed, ","),
				Backend: BackendNative,
				Outcome: outcome,
				Err:     res.Err,
				Elapsed: res.Elapsed,
			})
		}
		report.Freed += res.Freed
		report.Removed = append(report.Removed, res)
	}
	return report, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
