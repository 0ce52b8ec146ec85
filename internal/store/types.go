package store

import "time"

// HistoryEntry is one recorded operation outcome.
type HistoryEntry struct {
	ID          int64         `json:"id" yaml:"id"`
	Action      string        `json:"action" yaml:"action"`
	Formula     string        `json:"formula" yaml:"formula"`
	Version     string        `json:"version,omitempty" yaml:"version,omitempty"`
	FromVersion string        `json:"from_version,omitempty" yaml:"from_version,omitempty"`
	Backend     string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Outcome     string        `json:"outcome" yaml:"outcome"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
}

// Snapshot represents a point-in-time record of packages about to be removed.
type Snapshot struct {
	ID           int64     `json:"id" yaml:"id"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	Reason       string    `json:"reason" yaml:"reason"`
	PackageCount int       `json:"package_count" yaml:"package_count"`
	SnapshotPath string    `json:"path" yaml:"path"`
}

// SnapshotPackage represents a package in a snapshot.
type SnapshotPackage struct {
	SnapshotID  int64
	PackageName string
	Version     string
	Tap         string
	WasExplicit bool
}
