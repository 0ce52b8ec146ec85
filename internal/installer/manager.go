// Package installer composes the Cellar, resolver, bottle pipeline, relocator
// and linker into install, upgrade, reinstall, uninstall, cleanup and
// autoremove operations.
package installer

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/formula"
	"github.com/blackwell-systems/keg/internal/linker"
	"github.com/blackwell-systems/keg/internal/relocate"
	"github.com/blackwell-systems/keg/internal/resolver"
	"github.com/blackwell-systems/keg/internal/version"
)

// Downloader fetches a verified bottle archive for a formula.
type Downloader interface {
	Download(ctx context.Context, f *formula.Formula) (string, error)
	Platform() string
}

// Extractor unpacks a bottle into the Cellar and returns the version dir.
type Extractor interface {
	Extract(archive, name, version string) (string, error)
}

// Relocator rewrites placeholders in a freshly extracted version dir.
type Relocator interface {
	Relocate(dir string) (*relocate.Report, error)
}

// Delegator hands whole operations to an external package manager.
type Delegator interface {
	Install(ctx context.Context, names ...string) error
	Upgrade(ctx context.Context, names ...string) error
	Reinstall(ctx context.Context, names ...string) error
}

// Event is one history record emitted per item outcome.
type Event struct {
	Action      string
	Name        string
	Version     string
	FromVersion string
	Backend     Backend
	Outcome     Outcome
	Err         error
	Elapsed     time.Duration
}

// Recorder receives history events. Implementations must not block.
type Recorder interface {
	Record(ev Event)
}

// Options wires a Manager. Delegate and Recorder are optional.
type Options struct {
	Cellar     *cellar.Cellar
	Linker     *linker.Linker
	Fetcher    formula.Fetcher
	Downloader Downloader
	Extractor  Extractor
	Relocator  Relocator
	Delegate   Delegator
	Recorder   Recorder

	Parallel     int
	IncludeBuild bool
	// ToolVersion is written into receipts as homebrew_version.
	ToolVersion string
	Logger      zerolog.Logger
}

// Manager runs package operations against one prefix. A Manager is meant to
// live for a single command invocation: formula metadata is memoised for
// its lifetime and never persisted.
type Manager struct {
	cellar     *cellar.Cellar
	linker     *linker.Linker
	fetcher    formula.Fetcher
	downloader Downloader
	extractor  Extractor
	relocator  Relocator
	recorder   Recorder
	resolver   *resolver.Resolver

	native   *nativeBackend
	external *externalBackend

	parallel    int
	toolVersion string
	log         zerolog.Logger
	now         func() time.Time
}

// New returns a Manager composed from opts.
func New(opts Options) *Manager {
	if opts.Parallel < 1 {
		opts.Parallel = 4
	}
	if opts.ToolVersion == "" {
		opts.ToolVersion = "keg"
	}
	memo := formula.NewMemo(opts.Fetcher)
	m := &Manager{
		cellar:      opts.Cellar,
		linker:      opts.Linker,
		fetcher:     memo,
		downloader:  opts.Downloader,
		extractor:   opts.Extractor,
		relocator:   opts.Relocator,
		recorder:    opts.Recorder,
		parallel:    opts.Parallel,
		toolVersion: opts.ToolVersion,
		log:         opts.Logger,
		now:         time.Now,
		resolver: resolver.New(memo, resolver.Options{
			Parallel:     opts.Parallel,
			IncludeBuild: opts.IncludeBuild,
			Logger:       opts.Logger,
		}),
	}
	m.native = &nativeBackend{m: m}
	m.external = &externalBackend{delegate: opts.Delegate, log: opts.Logger}
	return m
}

// Cellar returns the Cellar the manager operates on.
func (m *Manager) Cellar() *cellar.Cellar { return m.cellar }

// Linker returns the prefix linker.
func (m *Manager) Linker() *linker.Linker { return m.linker }

// Fetcher returns the memoised metadata fetcher.
func (m *Manager) Fetcher() formula.Fetcher { return m.fetcher }

// Resolve resolves names and their dependency closure.
func (m *Manager) Resolve(ctx context.Context, names []string) (*resolver.Resolution, error) {
	return m.resolver.Resolve(ctx, names)
}

// backendFor picks the installer backend for a formula. Tap origin and
// missing bottles send the formula to the external package manager.
func (m *Manager) backendFor(f *formula.Formula, origin string) backend {
	if origin != "" || f == nil || !f.IsCoreTap() {
		return m.external
	}
	if !f.HasBottle(m.downloader.Platform()) {
		return m.external
	}
	return m.native
}

// current returns the version an operation should treat as installed: the
// linked version, else the newest installed one.
func (m *Manager) current(name string) (cellar.InstalledPackage, []cellar.InstalledPackage, error) {
	pkgs, err := m.cellar.InstalledVersions(name)
	if err != nil {
		return cellar.InstalledPackage{}, nil, err
	}
	if len(pkgs) == 0 {
		return cellar.InstalledPackage{}, nil, cellar.ErrNotInstalled
	}
	if v, ok := m.linker.LinkedVersion(name); ok {
		for _, p := range pkgs {
			if p.Version == v {
				return p, pkgs, nil
			}
		}
	}
	best := pkgs[0]
	for _, p := range pkgs[1:] {
		if version.Compare(p.Version, best.Version) == version.Greater {
			best = p
		}
	}
	return best, pkgs, nil
}

func (m *Manager) record(ev Event) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ev)
}

// newReceipt builds the receipt for a freshly poured bottle.
func (m *Manager) newReceipt(f *formula.Formula, deps []cellar.RuntimeDependency, onRequest bool) *cellar.Receipt {
	var head *string
	if f.Versions.Head != "" {
		h := f.Versions.Head
		head = &h
	}
	tap := f.Tap
	if tap == "" {
		tap = cellar.CoreTap
	}
	arch := hostArch()
	return &cellar.Receipt{
		HomebrewVersion:       m.toolVersion,
		BuiltAsBottle:         true,
		PouredFromBottle:      true,
		LoadedFromAPI:         true,
		InstalledAsDependency: !onRequest,
		InstalledOnRequest:    onRequest,
		Time:                  m.now().Unix(),
		RuntimeDependencies:   deps,
		Source: cellar.ReceiptSource{
			Tap:  tap,
			Spec: "stable",
			Versions: cellar.SourceVersions{
				Stable:        f.Versions.Stable,
				Head:          head,
				VersionScheme: f.VersionScheme,
			},
		},
		Arch:    arch,
		BuiltOn: &cellar.BuiltOn{OS: hostOS(), CPUFamily: arch},
	}
}

func hostArch() string {
	if runtime.GOARCH == "amd64" {
		return "x86_64"
	}
	return runtime.GOARCH
}

func hostOS() string {
	if runtime.GOOS == "darwin" {
		return "Macintosh"
	}
	return "Linux"
}

func joinErrs(errs []error) error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return errors.Join(out...)
}
