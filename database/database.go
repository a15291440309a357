// Package database provides the persistent metadata cache backed by
// SQLite. App metadata (name, install dir, header image, depot table)
// is cached with an expiration window so repeated lookups for the same
// AppID do not hit the network, while stale rows are transparently
// refreshed by the resolver.
package database

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Expiration is how long a cached row is considered fresh. Rows older
// than this are treated as absent so callers re-fetch from the network.
const Expiration = 14 * 24 * time.Hour

// Config holds metadata cache configuration.
type Config struct {
	// Path is the location of the writable cache database.
	Path string
	// SeedPath optionally points at a bundled snapshot database that
	// is copied to Path on first run, pre-warming the cache.
	SeedPath string
	// CompressionLevel is the zstd level used for depot table blobs.
	CompressionLevel zstd.EncoderLevel
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "metadata.db",
		CompressionLevel: zstd.SpeedDefault,
	}
}

// MetadataCache is a compressed, expiring cache of Steam app metadata.
//
// The cache degrades rather than fails: if the compressor cannot be
// initialized the cache becomes a no-op (every read a miss, every
// write discarded) and the process keeps running without caching.
type MetadataCache struct {
	db       *sql.DB
	logger   *logrus.Logger
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	degraded bool
	now      func() time.Time
}

// New opens (creating if necessary) the metadata cache at config.Path.
// If the database does not exist and config.SeedPath is set, the seed
// snapshot is copied into place first.
func New(config Config, logger *logrus.Logger) (*MetadataCache, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := bootstrapSeed(config, logger); err != nil {
		// A failed seed copy is not fatal; start from an empty cache.
		logger.WithError(err).Warn("Failed to bootstrap cache from seed snapshot")
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite allows only one writer; serialize access through a single
	// connection to avoid SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	cache := &MetadataCache{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := cache.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cache.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(config.CompressionLevel))
	if err == nil {
		cache.decoder, err = zstd.NewReader(nil)
	}
	if err != nil {
		// Cache becomes a deliberate no-op; log once and carry on.
		cache.degraded = true
		logger.WithError(err).Warn("Compression unavailable, metadata cache disabled")
	}

	return cache, nil
}

// bootstrapSeed copies the bundled snapshot into place when the
// writable database does not exist yet.
func bootstrapSeed(config Config, logger *logrus.Logger) error {
	if config.SeedPath == "" {
		return nil
	}
	if _, err := os.Stat(config.Path); err == nil {
		return nil
	}
	seed, err := os.Open(config.SeedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open seed database: %w", err)
	}
	defer seed.Close()

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	dst, err := os.Create(config.Path)
	if err != nil {
		return fmt.Errorf("failed to create cache database: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, seed); err != nil {
		os.Remove(config.Path)
		return fmt.Errorf("failed to copy seed database: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"seed": config.SeedPath,
		"path": config.Path,
	}).Info("Bootstrapped metadata cache from seed snapshot")
	return nil
}

// migration represents a single schema version upgrade.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{
		version:     1,
		description: "initial apps table",
		sql:         initialSchema,
	},
}

// runMigrations applies any schema migrations not yet recorded in the
// schema_migrations table, each inside its own transaction.
func (c *MetadataCache) runMigrations() error {
	if _, err := c.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current sql.NullInt64
	err := c.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && int64(m.version) <= current.Int64 {
			continue
		}

		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.version, m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		c.logger.WithFields(logrus.Fields{
			"version":     m.version,
			"description": m.description,
		}).Info("Applied cache schema migration")
	}
	return nil
}

// Degraded reports whether the cache is running in no-op mode.
func (c *MetadataCache) Degraded() bool {
	return c.degraded
}

// Close releases the underlying database handle.
func (c *MetadataCache) Close() error {
	if c.decoder != nil {
		c.decoder.Close()
	}
	if c.encoder != nil {
		c.encoder.Close()
	}
	return c.db.Close()
}
