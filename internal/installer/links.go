package installer

import (
	"context"
	"fmt"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/linker"
)

// LinkOptions tunes Link.
type LinkOptions struct {
	Overwrite bool
	DryRun    bool
	// Force links keg-only formulae.
	Force bool
}

// Link links the current version of name into the prefix and returns the
// created links. Keg-only formulae are refused unless opts.Force is set;
// when metadata cannot be fetched the formula is assumed linkable.
func (m *Manager) Link(ctx context.Context, name string, opts LinkOptions) ([]string, error) {
	name = cellar.ShortName(name)
	pkg, _, err := m.current(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if !opts.Force {
		f, err := m.fetcher.FetchFormula(ctx, name)
		if err != nil {
			m.log.Debug().Err(err).Str("formula", name).Msg("No metadata, skipping keg-only check")
		} else if f.KegOnly {
			return nil, fmt.Errorf("%s: %w", name, ErrKegOnly)
		}
	}

	links, err := m.linker.LinkFormula(name, pkg.Version, linker.LinkOptions{Overwrite: opts.Overwrite, DryRun: opts.DryRun})
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		m.record(Event{Action: "link", Name: name, Version: pkg.Version, Backend: BackendNative, Outcome: OutcomeInstalled})
	}
	return links, nil
}

// Unlink removes the prefix links of name's linked version. A formula that
// is not linked yields no paths and no error.
func (m *Manager) Unlink(ctx context.Context, name string) ([]string, error) {
	name = cellar.ShortName(name)
	if !m.cellar.IsInstalled(name) {
		return nil, fmt.Errorf("%s: %w", name, cellar.ErrNotInstalled)
	}
	v, ok := m.linker.LinkedVersion(name)
	if !ok {
		return nil, nil
	}
	removed, err := m.linker.UnlinkFormula(name, v)
	if err != nil {
		return removed, err
	}
	m.record(Event{Action: "unlink", Name: name, Version: v, Backend: BackendNative, Outcome: OutcomeRemoved})
	return removed, nil
}

// Pin stops upgrade and reinstall from touching name's current version.
func (m *Manager) Pin(name string) (string, error) {
	name = cellar.ShortName(name)
	pkg, _, err := m.current(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := m.cellar.Pin(name, pkg.Version); err != nil {
		return "", err
	}
	return pkg.Version, nil
}

// Unpin removes a pin.
func (m *Manager) Unpin(name string) error {
	name = cellar.ShortName(name)
	if !m.cellar.IsInstalled(name) {
		return fmt.Errorf("%s: %w", name, cellar.ErrNotInstalled)
	}
	return m.cellar.Unpin(name)
}
