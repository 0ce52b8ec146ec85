package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/installer"
)

// RestoreResult describes a restore.
type RestoreResult struct {
	Snapshot int64
	Results  []installer.InstallResult
	Warnings []string
}

// Err joins the per-package install errors.
func (r *RestoreResult) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// RestoreSnapshot reinstalls the packages recorded in snapshot id through
// inst. Packages that were pulled in as dependencies are installed as
// dependencies again, before the ones installed on request. Packages from a
// third-party tap are passed tap-qualified so they reach the external
// package manager. The current available version is installed; a
// difference from the recorded version is a warning.
func (m *Manager) RestoreSnapshot(ctx context.Context, id int64, inst Installer) (*RestoreResult, error) {
	snapshot, err := m.store.GetSnapshot(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	data, err := loadSnapshotFile(snapshot.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot file: %w", err)
	}

	if data.KegVersion != "" && m.version != "" && data.KegVersion != m.version {
		m.log.Debug().Str("snapshot", data.KegVersion).Str("current", m.version).Msg("Snapshot was created by a different keg version")
	}

	result := &RestoreResult{Snapshot: id}
	recorded := map[string]string{}
	var deps, explicit []string
	for _, pkg := range data.Packages {
		name := restoreName(pkg)
		recorded[pkg.Name] = pkg.Version
		if pkg.WasExplicit {
			explicit = append(explicit, name)
		} else {
			deps = append(deps, name)
		}
	}

	for _, batch := range []struct {
		names []string
		opts  installer.InstallOptions
	}{
		{deps, installer.InstallOptions{AsDependency: true}},
		{explicit, installer.InstallOptions{}},
	} {
		if len(batch.names) == 0 {
			continue
		}
		report := inst.Install(ctx, batch.names, batch.opts)
		for _, r := range report.Results {
			want, ok := recorded[cellar.ShortName(r.Name)]
			if ok && r.Err == nil && r.Version != "" && r.Version != want {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: restored %s, snapshot recorded %s", r.Name, r.Version, want))
			}
			result.Results = append(result.Results, r)
		}
	}

	for _, w := range result.Warnings {
		m.log.Warn().Int64("snapshot", id).Msg(w)
	}
	return result, result.Err()
}

// restoreName qualifies third-party tap packages with their tap.
func restoreName(pkg *PackageSnapshot) string {
	if pkg.Tap != "" && pkg.Tap != cellar.CoreTap {
		return pkg.Tap + "/" + pkg.Name
	}
	return pkg.Name
}

// loadSnapshotFile reads and parses a snapshot JSON file.
func loadSnapshotFile(path string) (*SnapshotData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshotData SnapshotData
	if err := json.Unmarshal(data, &snapshotData); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot JSON: %w", err)
	}

	return &snapshotData, nil
}
