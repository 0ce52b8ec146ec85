package installer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/formula"
)

// Reinstall replaces the installed version of each name with a fresh pour
// of the current bottle. Pinned formulae are skipped. Formulae installed
// from a third-party tap, or without a bottle for this platform, are
// reinstalled by the external package manager.
func (m *Manager) Reinstall(ctx context.Context, names []string) *InstallReport {
	report := &InstallReport{}
	for _, name := range uniq(names) {
		start := m.now()
		r := m.reinstall(ctx, name)
		r.Elapsed = m.now().Sub(start)
		report.add(r)
		m.recordInstall("reinstall", r)
	}
	return report
}

func (m *Manager) reinstall(ctx context.Context, name string) InstallResult {
	r := InstallResult{Name: name, Requested: true}
	fail := func(err error) InstallResult {
		r.Outcome = OutcomeFailed
		r.Err = err
		return r
	}
	delegated := func(j *job) InstallResult {
		r.Backend = BackendExternal
		if err := m.external.reinstall(ctx, j); err != nil {
			return fail(err)
		}
		r.Outcome = OutcomeDelegated
		m.fillFromCellar(&r)
		return r
	}

	if formula.IsTapQualified(name) {
		return delegated(&job{name: name})
	}
	name = cellar.ShortName(name)
	r.Name = name

	old, _, err := m.current(name)
	if err != nil {
		if errors.Is(err, cellar.ErrNotInstalled) {
			return fail(fmt.Errorf("%s: %w", name, cellar.ErrNotInstalled))
		}
		return fail(err)
	}
	r.Version = old.Version

	if m.cellar.IsPinned(name) {
		r.Outcome = OutcomePinned
		r.Path = old.Path
		r.Warnings = []string{fmt.Sprintf("%s is pinned, skipping reinstall", name)}
		return r
	}
	if origin := old.Receipt.TapOrigin(); origin != "" {
		return delegated(&job{name: origin + "/" + name})
	}

	f, err := m.fetcher.FetchFormula(ctx, name)
	if err != nil {
		return fail(stageErr(name, StageMetadataFetched, err))
	}
	if m.backendFor(f, "") == m.external {
		return delegated(&job{name: name, formula: f})
	}
	// Pouring over another installed version would fail after the current
	// one is already gone.
	if v := f.PkgVersion(); v != old.Version {
		if _, err := os.Stat(m.cellar.VersionPath(name, v)); err == nil {
			return fail(stageErr(name, StageRequested, fmt.Errorf("%s %s is already in the Cellar, run upgrade to switch to it", name, v)))
		}
	}

	res, err := m.resolver.Resolve(ctx, []string{name})
	if err != nil {
		return fail(stageErr(name, StageMetadataFetched, err))
	}
	for _, d := range m.installMissingDeps(ctx, res, name) {
		if d.Err != nil {
			return fail(stageErr(name, StageRequested, fmt.Errorf("dependency %s failed to install: %w", d.Name, d.Err)))
		}
	}

	j := &job{name: name, formula: f, res: res, onRequest: old.OnRequest(), old: &old}
	r.Backend = BackendNative
	err = m.native.reinstall(ctx, j)
	if isDownloadFailure(err) {
		// Nothing has been removed yet.
		m.log.Warn().Err(err).Str("formula", name).Msg("Bottle download failed, delegating reinstall")
		res := delegated(j)
		if res.Err != nil {
			res.Err = errors.Join(err, res.Err)
		}
		return res
	}
	r.Warnings = j.warnings
	if err != nil {
		return fail(err)
	}
	r.Outcome = OutcomeReinstalled
	r.Version, r.Path, r.Linked = j.version, j.path, j.linked
	r.Dependencies = dependencyNames(res, name)
	return r
}
