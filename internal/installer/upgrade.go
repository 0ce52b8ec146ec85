package installer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/formula"
	"github.com/blackwell-systems/keg/internal/linker"
	"github.com/blackwell-systems/keg/internal/resolver"
	"github.com/blackwell-systems/keg/internal/version"
)

// UpgradeResult is the outcome of upgrading one formula.
type UpgradeResult struct {
	Name        string        `json:"name" yaml:"name"`
	FromVersion string        `json:"from_version,omitempty" yaml:"from_version,omitempty"`
	ToVersion   string        `json:"to_version,omitempty" yaml:"to_version,omitempty"`
	Path        string        `json:"path,omitempty" yaml:"path,omitempty"`
	Linked      bool          `json:"linked" yaml:"linked"`
	Backend     Backend       `json:"backend,omitempty" yaml:"backend,omitempty"`
	Outcome     Outcome       `json:"outcome" yaml:"outcome"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
	Warnings    []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	// Dependencies lists runtime dependencies installed along the way.
	Dependencies []InstallResult `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Err          error           `json:"-" yaml:"-"`
}

// UpgradeReport collects the results of UpgradeAll.
type UpgradeReport struct {
	Results []UpgradeResult
}

// Err joins every fatal item error.
func (r *UpgradeReport) Err() error {
	errs := make([]error, 0, len(r.Results))
	for _, res := range r.Results {
		errs = append(errs, res.Err)
	}
	return joinErrs(errs)
}

// OutdatedEntry is an installed formula with a newer version available.
type OutdatedEntry struct {
	Name      string `json:"name" yaml:"name"`
	Installed string `json:"installed_version" yaml:"installed_version"`
	Available string `json:"current_version" yaml:"current_version"`
	Pinned    bool   `json:"pinned" yaml:"pinned"`
}

// Upgrade moves name to the newest available version. Not being installed
// is an error; already being current or pinned is not. The new version is
// extracted and relocated before the old one is touched, so a failure
// leaves the old version installed and linked.
func (m *Manager) Upgrade(ctx context.Context, name string) (*UpgradeResult, error) {
	start := m.now()
	r := &UpgradeResult{Name: name}
	err := m.upgrade(ctx, name, r)
	r.Elapsed = m.now().Sub(start)
	if err != nil {
		r.Outcome = OutcomeFailed
		r.Err = err
	}
	m.record(Event{
		Action:      "upgrade",
		Name:        name,
		Version:     r.ToVersion,
		FromVersion: r.FromVersion,
		Backend:     r.Backend,
		Outcome:     r.Outcome,
		Err:         err,
		Elapsed:     r.Elapsed,
	})
	return r, err
}

func (m *Manager) upgrade(ctx context.Context, name string, r *UpgradeResult) error {
	if formula.IsTapQualified(name) {
		r.Backend = BackendExternal
		if err := m.external.upgrade(ctx, &job{name: name}); err != nil {
			return err
		}
		r.Outcome = OutcomeDelegated
		return nil
	}
	name = cellar.ShortName(name)
	r.Name = name

	old, installed, err := m.current(name)
	if err != nil {
		if errors.Is(err, cellar.ErrNotInstalled) {
			return fmt.Errorf("%s: %w", name, cellar.ErrNotInstalled)
		}
		return err
	}
	r.FromVersion = old.Version

	if m.cellar.IsPinned(name) {
		r.Outcome = OutcomePinned
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s is pinned at %s, not upgrading", name, old.Version))
		return nil
	}

	if origin := old.Receipt.TapOrigin(); origin != "" {
		r.Backend = BackendExternal
		if err := m.external.upgrade(ctx, &job{name: origin + "/" + name}); err != nil {
			return err
		}
		r.Outcome = OutcomeDelegated
		m.fillUpgrade(r, name)
		return nil
	}

	f, err := m.fetcher.FetchFormula(ctx, name)
	if err != nil {
		return stageErr(name, StageMetadataFetched, err)
	}
	if version.Compare(f.PkgVersion(), old.Version) != version.Greater {
		r.Outcome = OutcomeUpToDate
		r.ToVersion = old.Version
		return nil
	}
	for _, p := range installed {
		if p.Version == f.PkgVersion() {
			return m.relinkInstalled(f, p, r)
		}
	}

	res, err := m.resolver.Resolve(ctx, []string{name})
	if err != nil {
		return stageErr(name, StageMetadataFetched, err)
	}
	if deps := m.installMissingDeps(ctx, res, name); len(deps) > 0 {
		r.Dependencies = deps
		for _, d := range deps {
			if d.Err != nil {
				return stageErr(name, StageRequested, fmt.Errorf("dependency %s failed to install: %w", d.Name, d.Err))
			}
		}
	}

	j := &job{name: name, formula: f, res: res, onRequest: old.OnRequest(), old: &old}
	b := m.backendFor(f, "")
	err = b.upgrade(ctx, j)
	if b == m.native && isDownloadFailure(err) {
		m.log.Warn().Err(err).Str("formula", name).Msg("Bottle download failed, delegating upgrade")
		b = m.external
		if derr := b.upgrade(ctx, j); derr != nil {
			err = errors.Join(err, derr)
		} else {
			err = nil
		}
	}
	r.Backend = b.kind()
	r.Warnings = append(r.Warnings, j.warnings...)
	if err != nil {
		return err
	}

	if b.kind() == BackendExternal {
		r.Outcome = OutcomeDelegated
		m.fillUpgrade(r, name)
		return nil
	}
	r.Outcome = OutcomeUpgraded
	r.ToVersion, r.Path, r.Linked = j.version, j.path, j.linked
	return nil
}

// relinkInstalled switches to a newer version that is already in the
// Cellar, typically left behind by an interrupted upgrade.
func (m *Manager) relinkInstalled(f *formula.Formula, pkg cellar.InstalledPackage, r *UpgradeResult) error {
	r.Backend = BackendNative
	r.ToVersion, r.Path = pkg.Version, pkg.Path
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s %s is already installed, relinking", f.Name, pkg.Version))
	if f.KegOnly {
		if err := m.linker.OptLink(pkg.Name, pkg.Version); err != nil {
			return stageErr(pkg.Name, StageLinked, err)
		}
	} else {
		if _, err := m.linker.LinkFormula(pkg.Name, pkg.Version, linker.LinkOptions{}); err != nil {
			return stageErr(pkg.Name, StageLinked, err)
		}
		r.Linked = true
	}
	r.Outcome = OutcomeUpgraded
	return nil
}

// installMissingDeps installs runtime dependencies of name that are not in
// the Cellar yet.
func (m *Manager) installMissingDeps(ctx context.Context, res *resolver.Resolution, name string) []InstallResult {
	var missing []string
	for _, d := range res.RuntimeClosure([]string{name}) {
		if d != name && !m.cellar.IsInstalled(d) {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	var results []InstallResult
	for _, r := range m.installResolved(ctx, res, missing, nil, InstallOptions{}) {
		if r.Name != name {
			results = append(results, r)
		}
	}
	return results
}

func (m *Manager) fillUpgrade(r *UpgradeResult, name string) {
	pkg, _, err := m.current(name)
	if err != nil {
		return
	}
	r.ToVersion, r.Path = pkg.Version, pkg.Path
	_, r.Linked = m.linker.LinkedKeg(name)
}

// UpgradeAll upgrades names, or every outdated formula when names is empty.
func (m *Manager) UpgradeAll(ctx context.Context, names []string) *UpgradeReport {
	report := &UpgradeReport{}
	if len(names) == 0 {
		outdated, err := m.Outdated(ctx)
		if err != nil {
			report.Results = append(report.Results, UpgradeResult{Outcome: OutcomeFailed, Err: err})
			return report
		}
		for _, o := range outdated {
			if !o.Pinned {
				names = append(names, o.Name)
			}
		}
	}
	for _, name := range uniq(names) {
		r, _ := m.Upgrade(ctx, name)
		report.Results = append(report.Results, *r)
	}
	return report
}

// Outdated lists installed formulae whose available version is newer than
// the installed one. Formulae from third-party taps and formulae whose
// metadata cannot be fetched are skipped with a warning.
func (m *Manager) Outdated(ctx context.Context) ([]OutdatedEntry, error) {
	pkgs, err := m.cellar.ListInstalled()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var candidates []OutdatedEntry
	for _, p := range pkgs {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		cur, _, err := m.current(p.Name)
		if err != nil {
			continue
		}
		if cur.Receipt.TapOrigin() != "" {
			m.log.Debug().Str("formula", p.Name).Msg("Skipping tap formula in outdated check")
			continue
		}
		candidates = append(candidates, OutdatedEntry{Name: p.Name, Installed: cur.Version, Pinned: m.cellar.IsPinned(p.Name)})
	}

	available := make([]string, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallel)
	for i, c := range candidates {
		g.Go(func() error {
			f, err := m.fetcher.FetchFormula(gctx, c.Name)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				m.log.Warn().Err(err).Str("formula", c.Name).Msg("Could not check for a newer version")
				return nil
			}
			available[i] = f.PkgVersion()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []OutdatedEntry
	for i, c := range candidates {
		if available[i] == "" {
			continue
		}
		if version.Compare(available[i], c.Installed) == version.Greater {
			c.Available = available[i]
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
