package installer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/formula"
	"github.com/blackwell-systems/keg/internal/resolver"
)

// InstallOptions tunes Install.
type InstallOptions struct {
	// Force overwrites conflicting prefix entries when linking.
	Force bool
	// AsDependency records the requested formulae as installed dependencies
	// rather than on request.
	AsDependency bool
}

// InstallResult is the outcome for one formula of an install or reinstall.
type InstallResult struct {
	Name         string        `json:"name" yaml:"name"`
	Version      string        `json:"version,omitempty" yaml:"version,omitempty"`
	Path         string        `json:"path,omitempty" yaml:"path,omitempty"`
	Linked       bool          `json:"linked" yaml:"linked"`
	Dependencies []string      `json:"dependencies" yaml:"dependencies"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
	Backend      Backend       `json:"backend,omitempty" yaml:"backend,omitempty"`
	Outcome      Outcome       `json:"outcome" yaml:"outcome"`
	// Requested is false for dependencies pulled in by a requested formula.
	Requested bool     `json:"requested" yaml:"requested"`
	Warnings  []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Err       error    `json:"-" yaml:"-"`
}

// InstallReport collects per-formula results of a batch.
type InstallReport struct {
	Results []InstallResult
}

// Err joins every fatal item error. Warnings and skips are not errors.
func (r *InstallReport) Err() error {
	errs := make([]error, 0, len(r.Results))
	for _, res := range r.Results {
		errs = append(errs, res.Err)
	}
	return joinErrs(errs)
}

// Result returns the entry for name.
func (r *InstallReport) Result(name string) (InstallResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return InstallResult{}, false
}

func (r *InstallReport) add(res InstallResult) {
	r.Results = append(r.Results, res)
}

// Install installs the named formulae and any missing runtime dependencies.
// Each name is handled independently: a failure for one never stops the
// others, and only formulae depending on a failed one are skipped.
func (m *Manager) Install(ctx context.Context, names []string, opts InstallOptions) *InstallReport {
	report := &InstallReport{}

	var core []string
	for _, name := range uniq(names) {
		if formula.IsTapQualified(name) {
			report.add(m.delegateInstall(ctx, name))
			continue
		}
		core = append(core, cellar.ShortName(name))
	}
	if len(core) == 0 {
		return report
	}

	res, failed := m.resolveEach(ctx, core)
	for _, r := range failed {
		report.add(r)
		m.recordInstall("install", r)
	}
	if res == nil {
		return report
	}

	requested := make(map[string]bool, len(res.Requested))
	for _, n := range res.Requested {
		requested[n] = true
	}
	for _, r := range m.installResolved(ctx, res, res.Requested, requested, opts) {
		report.add(r)
	}
	return report
}

// resolveEach resolves names, dropping requested names whose metadata
// cannot be fetched so the remaining ones can still proceed.
func (m *Manager) resolveEach(ctx context.Context, names []string) (*resolver.Resolution, []InstallResult) {
	var failed []InstallResult
	for len(names) > 0 {
		res, err := m.resolver.Resolve(ctx, names)
		if err == nil {
			return res, failed
		}
		re, ok := resolver.IsRequestError(err)
		if !ok {
			for _, n := range names {
				failed = append(failed, failedResult(n, true, stageErr(n, StageMetadataFetched, err)))
			}
			return nil, failed
		}
		failed = append(failed, failedResult(re.Name, true, stageErr(re.Name, StageMetadataFetched, re.Err)))
		names = without(names, re.Name)
	}
	return nil, failed
}

// installResolved installs every not-yet-installed formula in the runtime
// closure of roots, dependencies first. Names in requested are installed on
// request; requested formulae that are already installed are reported as
// such.
func (m *Manager) installResolved(ctx context.Context, res *resolver.Resolution, roots []string, requested map[string]bool, opts InstallOptions) []InstallResult {
	order := res.InstallOrder(roots)

	var jobs []*job
	var results []InstallResult
	for _, name := range order {
		if m.cellar.IsInstalled(name) {
			if requested[name] {
				r := InstallResult{Name: name, Requested: true, Outcome: OutcomeAlreadyInstalled}
				if pkg, _, err := m.current(name); err == nil {
					r.Version, r.Path = pkg.Version, pkg.Path
					_, r.Linked = m.linker.LinkedKeg(name)
				}
				r.Warnings = []string{fmt.Sprintf("%s %s is already installed", name, r.Version)}
				results = append(results, r)
			}
			continue
		}
		jobs = append(jobs, &job{
			name:      name,
			formula:   res.Formulae[name],
			res:       res,
			onRequest: requested[name] && !opts.AsDependency,
			overwrite: opts.Force,
		})
	}

	downloadErrs := m.prefetch(ctx, jobs)

	failed := map[string]bool{}
	for i, j := range jobs {
		start := m.now()
		r := InstallResult{
			Name:         j.name,
			Requested:    j.onRequest,
			Dependencies: dependencyNames(res, j.name),
		}

		if dep := firstFailed(res, j.name, failed); dep != "" {
			r.Outcome = OutcomeFailed
			r.Err = stageErr(j.name, StageRequested, fmt.Errorf("dependency %s failed to install", dep))
			failed[j.name] = true
			results = append(results, r)
			m.recordInstall("install", r)
			continue
		}

		b := m.backendFor(j.formula, "")
		var err error
		if b == m.native && downloadErrs[i] != nil {
			err = downloadErrs[i]
		} else {
			err = b.install(ctx, j)
		}
		if b == m.native && isDownloadFailure(err) {
			m.log.Warn().Err(err).Str("formula", j.name).Msg("Bottle download failed, delegating install")
			b = m.external
			if derr := b.install(ctx, j); derr != nil {
				err = errors.Join(err, derr)
			} else {
				err = nil
			}
		}

		r.Backend = b.kind()
		r.Warnings = j.warnings
		r.Elapsed = m.now().Sub(start)
		if err != nil {
			r.Outcome = OutcomeFailed
			r.Err = err
			failed[j.name] = true
		} else {
			r.Outcome = OutcomeInstalled
			if b.kind() == BackendExternal {
				r.Outcome = OutcomeDelegated
				m.fillFromCellar(&r)
			} else {
				r.Version, r.Path, r.Linked = j.version, j.path, j.linked
			}
		}
		results = append(results, r)
		m.recordInstall("install", r)
	}
	return results
}

// prefetch downloads the bottles of all native jobs concurrently. The
// returned slice holds the download error per job index.
func (m *Manager) prefetch(ctx context.Context, jobs []*job) []error {
	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(m.parallel)
	for i, j := range jobs {
		if m.backendFor(j.formula, "") != m.native {
			continue
		}
		g.Go(func() error {
			archive, err := m.downloader.Download(ctx, j.formula)
			if err != nil {
				errs[i] = stageErr(j.name, StageBottleDownloaded, err)
				return nil
			}
			j.archive = archive
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (m *Manager) delegateInstall(ctx context.Context, name string) InstallResult {
	start := m.now()
	j := &job{name: name, onRequest: true}
	r := InstallResult{Name: name, Requested: true, Backend: BackendExternal}
	if err := m.external.install(ctx, j); err != nil {
		r.Outcome = OutcomeFailed
		r.Err = err
	} else {
		r.Outcome = OutcomeDelegated
		m.fillFromCellar(&r)
	}
	r.Elapsed = m.now().Sub(start)
	m.recordInstall("install", r)
	return r
}

// fillFromCellar reads version and link state after an external install.
func (m *Manager) fillFromCellar(r *InstallResult) {
	short := cellar.ShortName(r.Name)
	pkg, _, err := m.current(short)
	if err != nil {
		return
	}
	r.Version, r.Path = pkg.Version, pkg.Path
	_, r.Linked = m.linker.LinkedKeg(short)
}

func (m *Manager) recordInstall(action string, r InstallResult) {
	m.record(Event{
		Action:  action,
		Name:    r.Name,
		Version: r.Version,
		Backend: r.Backend,
		Outcome: r.Outcome,
		Err:     r.Err,
		Elapsed: r.Elapsed,
	})
}

func failedResult(name string, requested bool, err error) InstallResult {
	return InstallResult{Name: name, Requested: requested, Outcome: OutcomeFailed, Err: err}
}

func isDownloadFailure(err error) bool {
	stage, ok := FailedStage(err)
	return ok && stage == StageBottleDownloaded
}

func dependencyNames(res *resolver.Resolution, name string) []string {
	deps := res.RuntimeDependencies(name)
	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, cellar.ShortName(d.FullName))
	}
	return names
}

// firstFailed returns a failed direct or transitive runtime dependency of name.
func firstFailed(res *resolver.Resolution, name string, failed map[string]bool) string {
	if len(failed) == 0 {
		return ""
	}
	for _, d := range res.RuntimeClosure([]string{name}) {
		if d != name && failed[d] {
			return d
		}
	}
	return ""
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func without(names []string, drop string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}
