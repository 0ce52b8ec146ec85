package snapshots

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/store"
)

// maxAge is how long snapshot files are kept by CleanupOldSnapshots.
const maxAge = 90 * 24 * time.Hour

// CreateSnapshot writes a snapshot of pkgs and returns its ID. A formula
// passed with several versions is recorded once; the last one passed wins.
// An empty pkgs list creates nothing and returns 0.
func (m *Manager) CreateSnapshot(pkgs []cellar.InstalledPackage, reason string) (int64, error) {
	if len(pkgs) == 0 {
		return 0, nil
	}

	// Ensure snapshot directory exists
	if err := os.MkdirAll(m.snapshotDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	byName := map[string]*PackageSnapshot{}
	for _, p := range pkgs {
		ps := &PackageSnapshot{Name: p.Name, Version: p.Version, Tap: cellar.CoreTap}
		if p.Receipt != nil {
			if p.Receipt.Source.Tap != "" {
				ps.Tap = p.Receipt.Source.Tap
			}
			ps.Dependencies = p.Receipt.DependencyNames()
		}
		ps.WasExplicit = p.OnRequest()
		byName[p.Name] = ps
	}

	created := m.now()
	data := &SnapshotData{
		CreatedAt:  created,
		Reason:     reason,
		Packages:   make([]*PackageSnapshot, 0, len(byName)),
		KegVersion: m.version,
	}
	for _, ps := range byName {
		data.Packages = append(data.Packages, ps)
	}
	sort.Slice(data.Packages, func(i, j int) bool { return data.Packages[i].Name < data.Packages[j].Name })

	// Generate snapshot filename: YYYY-MM-DD-HHMMSS.nnnnnnnnn.json
	snapshotPath := filepath.Join(m.snapshotDir, created.Format("2006-01-02-150405.000000000")+".json")

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot data: %w", err)
	}
	if err := os.WriteFile(snapshotPath, jsonData, 0644); err != nil {
		return 0, fmt.Errorf("failed to write snapshot file: %w", err)
	}

	snapshotID, err := m.store.InsertSnapshot(reason, len(data.Packages), snapshotPath)
	if err != nil {
		// Try to clean up the JSON file if DB insert fails
		os.Remove(snapshotPath)
		return 0, fmt.Errorf("failed to insert snapshot into database: %w", err)
	}

	for _, ps := range data.Packages {
		snapshotPkg := &store.SnapshotPackage{
			SnapshotID:  snapshotID,
			PackageName: ps.Name,
			Version:     ps.Version,
			Tap:         ps.Tap,
			WasExplicit: ps.WasExplicit,
		}
		if err := m.store.InsertSnapshotPackage(snapshotID, snapshotPkg); err != nil {
			return 0, fmt.Errorf("failed to insert snapshot package %s: %w", ps.Name, err)
		}
	}

	m.log.Debug().Int64("id", snapshotID).Str("reason", reason).Int("packages", len(data.Packages)).Msg("Created snapshot")
	return snapshotID, nil
}

// ListSnapshots returns all snapshots from the database.
func (m *Manager) ListSnapshots() ([]*store.Snapshot, error) {
	snapshots, err := m.store.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snapshots, nil
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest() (*store.Snapshot, error) {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots available")
	}
	return snapshots[0], nil
}

// CleanupOldSnapshots removes snapshots older than 90 days, file and index
// row, and returns how many were deleted.
func (m *Manager) CleanupOldSnapshots() (int, error) {
	snapshots, err := m.store.ListSnapshots()
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	deleted := 0
	for _, snapshot := range snapshots {
		if !snapshot.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(snapshot.SnapshotPath); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("failed to delete snapshot file %s: %w", snapshot.SnapshotPath, err)
		}
		if err := m.store.DeleteSnapshot(snapshot.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
