package database

// schemaMigrationsTable creates the schema_migrations table for tracking
// database versions.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

// initialSchema contains the initial database schema (version 1).
//
// The apps table mirrors the bundled seed snapshot layout: one row per
// AppID, with the depot table stored as a zstd-compressed JSON blob and
// the header image stored as a CDN-relative path.
const initialSchema = `
CREATE TABLE IF NOT EXISTS apps (
    appid INTEGER PRIMARY KEY,
    name TEXT,
    header_path TEXT,
    installdir TEXT,
    depots_blob BLOB,
    last_updated INTEGER
);

CREATE INDEX IF NOT EXISTS idx_apps_last_updated ON apps(last_updated);
`
