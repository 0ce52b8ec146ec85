package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/brew"
	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/formula"
	"github.com/blackwell-systems/keg/internal/linker"
	"github.com/blackwell-systems/keg/internal/resolver"
)

// job carries one formula through a backend. The backend fills the output
// fields.
type job struct {
	name      string
	formula   *formula.Formula
	res       *resolver.Resolution
	onRequest bool
	overwrite bool
	// archive is a bottle downloaded ahead of time; empty means download.
	archive string
	// old is the version being replaced by upgrade or reinstall.
	old *cellar.InstalledPackage

	version  string
	path     string
	linked   bool
	warnings []string
}

func (j *job) warn(format string, args ...any) {
	j.warnings = append(j.warnings, fmt.Sprintf(format, args...))
}

// backend is one way of getting a formula onto disk.
type backend interface {
	kind() Backend
	install(ctx context.Context, j *job) error
	upgrade(ctx context.Context, j *job) error
	reinstall(ctx context.Context, j *job) error
}

// nativeBackend pours bottles directly into the Cellar.
type nativeBackend struct {
	m *Manager
}

func (b *nativeBackend) kind() Backend { return BackendNative }

func (b *nativeBackend) download(ctx context.Context, j *job) error {
	if j.archive != "" {
		return nil
	}
	archive, err := b.m.downloader.Download(ctx, j.formula)
	if err != nil {
		return stageErr(j.name, StageBottleDownloaded, err)
	}
	j.archive = archive
	return nil
}

func (b *nativeBackend) install(ctx context.Context, j *job) error {
	if err := b.download(ctx, j); err != nil {
		return err
	}
	return b.pour(j)
}

// upgrade extracts the new version next to the old one and only removes
// the old version once the new one is relocated and has its receipt.
func (b *nativeBackend) upgrade(ctx context.Context, j *job) error {
	if err := b.download(ctx, j); err != nil {
		return err
	}
	dir, err := b.stage(j)
	if err != nil {
		return err
	}

	if _, err := b.m.linker.UnlinkFormula(j.name, j.old.Version); err != nil {
		b.discard(j, dir)
		return stageErr(j.name, StageLinked, fmt.Errorf("unlinking %s: %w", j.old.Version, err))
	}
	removeErr := b.m.cellar.Remove(*j.old)
	// The new version is linked even when the old one could not be removed,
	// so the formula stays usable.
	b.link(j)
	if removeErr != nil {
		return stageErr(j.name, StageLinked, fmt.Errorf("removing %s: %w", j.old.Version, removeErr))
	}
	return nil
}

// reinstall replaces the installed version. The bottle is downloaded before
// anything is removed.
func (b *nativeBackend) reinstall(ctx context.Context, j *job) error {
	if err := b.download(ctx, j); err != nil {
		return err
	}
	if _, err := b.m.linker.UnlinkFormula(j.name, j.old.Version); err != nil {
		return stageErr(j.name, StageLinked, fmt.Errorf("unlinking %s: %w", j.old.Version, err))
	}
	if err := b.m.cellar.Remove(*j.old); err != nil {
		return stageErr(j.name, StageExtracted, fmt.Errorf("removing %s: %w", j.old.Version, err))
	}
	return b.pour(j)
}

// pour runs extract, relocate, receipt and link for a downloaded bottle.
func (b *nativeBackend) pour(j *job) error {
	if _, err := b.stage(j); err != nil {
		return err
	}
	b.link(j)
	return nil
}

// stage extracts, relocates and writes the receipt. On failure nothing of
// the new version is left in the Cellar.
func (b *nativeBackend) stage(j *job) (string, error) {
	dir, err := b.m.extractor.Extract(j.archive, j.name, j.formula.PkgVersion())
	if err != nil {
		return "", stageErr(j.name, StageExtracted, err)
	}
	j.path = dir
	j.version = versionOf(dir)

	report, err := b.m.relocator.Relocate(dir)
	if err != nil {
		j.warn("relocation incomplete: %v", err)
	}
	if report != nil {
		j.warnings = append(j.warnings, report.Warnings...)
	}

	var deps []cellar.RuntimeDependency
	if j.res != nil {
		deps = j.res.RuntimeDependencies(j.name)
	}
	if err := cellar.WriteReceipt(dir, b.m.newReceipt(j.formula, deps, j.onRequest)); err != nil {
		b.discard(j, dir)
		return "", stageErr(j.name, StageReceiptWritten, err)
	}
	return dir, nil
}

// link exposes the new version in the prefix. Keg-only formulae only get
// the opt link. Link failures are warnings: the version is installed and
// can be linked later.
func (b *nativeBackend) link(j *job) {
	if j.formula.KegOnly {
		if err := b.m.linker.OptLink(j.name, j.version); err != nil {
			j.warn("opt link failed: %v", err)
		}
		return
	}
	_, err := b.m.linker.LinkFormula(j.name, j.version, linker.LinkOptions{Overwrite: j.overwrite})
	if err != nil {
		var ce *linker.ConflictError
		if errors.As(err, &ce) {
			j.warn("not linked, %d conflicting files (first: %s)", len(ce.Paths), ce.Paths[0])
		} else {
			j.warn("not linked: %v", err)
		}
		if err := b.m.linker.OptLink(j.name, j.version); err != nil {
			j.warn("opt link failed: %v", err)
		}
		return
	}
	j.linked = true
}

func (b *nativeBackend) discard(j *job, dir string) {
	pkg := cellar.InstalledPackage{Name: j.name, Version: versionOf(dir), Path: dir}
	if err := b.m.cellar.Remove(pkg); err != nil {
		b.m.log.Warn().Err(err).Str("path", dir).Msg("Failed to remove partial install")
	}
}

// externalBackend delegates whole operations to the external package
// manager.
type externalBackend struct {
	delegate Delegator
	log      zerolog.Logger
}

func (b *externalBackend) kind() Backend { return BackendExternal }

func (b *externalBackend) run(ctx context.Context, j *job, subcommand string) error {
	if b.delegate == nil {
		return stageErr(j.name, StageDelegated, brew.ErrUnavailable)
	}
	target := j.name
	if j.formula != nil && j.formula.FullName != "" && !j.formula.IsCoreTap() {
		target = j.formula.FullName
	}

	var op func(context.Context, ...string) error
	switch subcommand {
	case "upgrade":
		op = b.delegate.Upgrade
	case "reinstall":
		op = b.delegate.Reinstall
	default:
		op = b.delegate.Install
	}

	b.log.Info().Str("formula", target).Str("subcommand", subcommand).Msg("Delegating to external package manager")
	if err := op(ctx, target); err != nil {
		return stageErr(j.name, StageDelegated, err)
	}
	return nil
}

func (b *externalBackend) install(ctx context.Context, j *job) error {
	return b.run(ctx, j, "install")
}

func (b *externalBackend) upgrade(ctx context.Context, j *job) error {
	return b.run(ctx, j, "upgrade")
}

func (b *externalBackend) reinstall(ctx context.Context, j *job) error {
	return b.run(ctx, j, "reinstall")
}

// versionOf returns the version element of a version dir path.
func versionOf(dir string) string {
	return filepath.Base(dir)
}
