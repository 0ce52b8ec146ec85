package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertSnapshot creates a new snapshot record and returns its ID.
func (s *Store) InsertSnapshot(reason string, pkgCount int, path string) (int64, error) {
	query := `
		INSERT INTO snapshots (created_at, reason, package_count, snapshot_path)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		time.Now().UTC().Format(time.RFC3339Nano),
		reason,
		pkgCount,
		path,
	)
	if err != nil {
		return 0, wrapErr(err, "failed to insert snapshot")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot ID: %w", err)
	}

	return id, nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(id int64) (*Snapshot, error) {
	query := `
		SELECT id, created_at, reason, package_count, snapshot_path
		FROM snapshots
		WHERE id = ?
	`

	var snapshot Snapshot
	var createdAt string

	err := s.db.QueryRow(query, id).Scan(
		&snapshot.ID,
		&createdAt,
		&snapshot.Reason,
		&snapshot.PackageCount,
		&snapshot.SnapshotPath,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d not found", id)
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get snapshot %d", id)
	}

	snapshot.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for snapshot %d: %w", id, err)
	}

	return &snapshot, nil
}

// ListSnapshots returns all snapshots, newest first.
func (s *Store) ListSnapshots() ([]*Snapshot, error) {
	query := `
		SELECT id, created_at, reason, package_count, snapshot_path
		FROM snapshots
		ORDER BY id DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, wrapErr(err, "failed to list snapshots")
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		var snapshot Snapshot
		var createdAt string

		err := rows.Scan(
			&snapshot.ID,
			&createdAt,
			&snapshot.Reason,
			&snapshot.PackageCount,
			&snapshot.SnapshotPath,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		snapshot.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for snapshot %d: %w", snapshot.ID, err)
		}

		snapshots = append(snapshots, &snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// DeleteSnapshot removes a snapshot record and its packages.
func (s *Store) DeleteSnapshot(id int64) error {
	result, err := s.db.Exec(`DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return wrapErr(err, "failed to delete snapshot %d", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("snapshot %d not found", id)
	}
	return nil
}

// InsertSnapshotPackage adds a package to a snapshot.
func (s *Store) InsertSnapshotPackage(snapshotID int64, pkg *SnapshotPackage) error {
	query := `
		INSERT INTO snapshot_packages (snapshot_id, package_name, version, tap, was_explicit)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		snapshotID,
		pkg.PackageName,
		pkg.Version,
		pkg.Tap,
		pkg.WasExplicit,
	)

	if err != nil {
		return wrapErr(err, "failed to insert snapshot package %s", pkg.PackageName)
	}

	return nil
}

// GetSnapshotPackages returns all packages in a snapshot.
func (s *Store) GetSnapshotPackages(snapshotID int64) ([]*SnapshotPackage, error) {
	query := `
		SELECT snapshot_id, package_name, version, tap, was_explicit
		FROM snapshot_packages
		WHERE snapshot_id = ?
		ORDER BY package_name
	`

	rows, err := s.db.Query(query, snapshotID)
	if err != nil {
		return nil, wrapErr(err, "failed to get snapshot packages")
	}
	defer rows.Close()

	var packages []*SnapshotPackage
	for rows.Next() {
		var pkg SnapshotPackage

		err := rows.Scan(
			&pkg.SnapshotID,
			&pkg.PackageName,
			&pkg.Version,
			&pkg.Tap,
			&pkg.WasExplicit,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot package row: %w", err)
		}

		packages = append(packages, &pkg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot packages: %w", err)
	}

	return packages, nil
}
