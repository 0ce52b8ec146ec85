package store

const schema = `
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action TEXT NOT NULL,
    formula TEXT NOT NULL,
    version TEXT,
    from_version TEXT,
    backend TEXT,
    outcome TEXT NOT NULL,
    error TEXT,
    elapsed_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at TIMESTAMP NOT NULL,
    reason TEXT,
    package_count INTEGER,
    snapshot_path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_packages (
    snapshot_id INTEGER NOT NULL,
    package_name TEXT NOT NULL,
    version TEXT NOT NULL,
    tap TEXT,
    was_explicit BOOLEAN,
    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_history_formula ON history(formula);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
CREATE INDEX IF NOT EXISTS idx_snapshot_packages ON snapshot_packages(snapshot_id);
`
