// Package snapshots records the packages a destructive operation is about to
// remove so they can be reinstalled later.
package snapshots

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/store"
)

// SnapshotData represents the JSON structure stored in snapshot files.
type SnapshotData struct {
	CreatedAt  time.Time          `json:"created_at"`
	Reason     string             `json:"reason"`
	Packages   []*PackageSnapshot `json:"packages"`
	KegVersion string             `json:"keg_version"`
}

// PackageSnapshot represents a package in a snapshot file.
type PackageSnapshot struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Tap          string   `json:"tap"`
	WasExplicit  bool     `json:"installed_on_request"`
	Dependencies []string `json:"runtime_dependencies"`
}

// Installer is the part of the orchestrator a restore needs.
type Installer interface {
	Install(ctx context.Context, names []string, opts installer.InstallOptions) *installer.InstallReport
}

// Manager manages snapshot creation, restoration, and cleanup.
type Manager struct {
	store       *store.Store
	snapshotDir string
	version     string
	log         zerolog.Logger
	now         func() time.Time
}

// New creates a new snapshot Manager. toolVersion is recorded in each
// snapshot file.
func New(store *store.Store, snapshotDir, toolVersion string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:       store,
		snapshotDir: snapshotDir,
		version:     toolVersion,
		log:         logger,
		now:         time.Now,
	}
}
