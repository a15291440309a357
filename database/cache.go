package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// branchesKey is the reserved key inside the depot table blob that
// carries branch data (the public build id). Depot IDs are numeric so
// the key can never collide with a real depot.
const branchesKey = "branches"

type branchInfo struct {
	BuildID string `json:"buildid,omitempty"`
}

// Get returns cached metadata for appID, or nil when the row is
// absent, older than Expiration, or the cache is degraded. A blob that
// no longer decompresses yields metadata with an empty depot table
// rather than a miss, so the name and header survive blob corruption.
func (c *MetadataCache) Get(appID string) (*accela.AppMetadata, error) {
	if c.degraded {
		return nil, nil
	}
	id, err := strconv.ParseInt(appID, 10, 64)
	if err != nil {
		return nil, nil
	}

	var (
		name       sql.NullString
		headerPath sql.NullString
		installDir sql.NullString
		blob       []byte
		updated    int64
	)
	row := c.db.QueryRow(
		"SELECT name, header_path, installdir, depots_blob, last_updated FROM apps WHERE appid = ?", id)
	err = row.Scan(&name, &headerPath, &installDir, &blob, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached metadata for app %s: %w", appID, err)
	}

	updatedAt := time.Unix(updated, 0)
	if c.now().Sub(updatedAt) > Expiration {
		c.logger.WithField("appid", appID).Debug("Cached metadata expired")
		return nil, nil
	}

	meta := &accela.AppMetadata{
		AppID:      appID,
		Name:       name.String,
		InstallDir: installDir.String,
		HeaderURL:  headerURL(headerPath.String),
		Depots:     map[string]accela.DepotInfo{},
		Updated:    updatedAt,
	}
	if len(blob) > 0 {
		depots, buildID, err := c.decodeDepots(blob)
		if err != nil {
			// Stale compression artifacts should not poison the whole
			// row; serve what we have and let the resolver heal it.
			c.logger.WithError(err).WithField("appid", appID).Warn("Failed to decode cached depot table")
		} else {
			meta.Depots = depots
			meta.BuildID = buildID
		}
	}
	return meta, nil
}

// Upsert stores metadata for later lookups, replacing any existing
// row. Depot decryption keys are never persisted. Degraded caches
// silently discard the write.
func (c *MetadataCache) Upsert(meta *accela.AppMetadata) error {
	if c.degraded || meta == nil {
		return nil
	}
	id, err := strconv.ParseInt(meta.AppID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid appid %q: %w", meta.AppID, err)
	}

	blob, err := c.encodeDepots(meta.Depots, meta.BuildID)
	if err != nil {
		return fmt.Errorf("failed to encode depot table for app %s: %w", meta.AppID, err)
	}

	_, err = c.db.Exec(`
		INSERT INTO apps (appid, name, header_path, installdir, depots_blob, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(appid) DO UPDATE SET
			name = excluded.name,
			header_path = excluded.header_path,
			installdir = excluded.installdir,
			depots_blob = excluded.depots_blob,
			last_updated = excluded.last_updated`,
		id,
		meta.Name,
		normalizeHeaderPath(meta.HeaderURL, meta.AppID),
		meta.InstallDir,
		blob,
		c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metadata for app %s: %w", meta.AppID, err)
	}
	return nil
}

// Delete removes the cached row for appID, forcing the next lookup to
// re-fetch from the network.
func (c *MetadataCache) Delete(appID string) error {
	if c.degraded {
		return nil
	}
	id, err := strconv.ParseInt(appID, 10, 64)
	if err != nil {
		return nil
	}
	if _, err := c.db.Exec("DELETE FROM apps WHERE appid = ?", id); err != nil {
		return fmt.Errorf("failed to delete cached metadata for app %s: %w", appID, err)
	}
	return nil
}

// encodeDepots packs the depot table and build id into a single
// zstd-compressed JSON blob. The build id rides along under the
// reserved branches key so the schema needs no extra column.
func (c *MetadataCache) encodeDepots(depots map[string]accela.DepotInfo, buildID string) ([]byte, error) {
	table := make(map[string]json.RawMessage, len(depots)+1)
	for depotID, info := range depots {
		raw, err := json.Marshal(info)
		if err != nil {
			return nil, err
		}
		table[depotID] = raw
	}
	if buildID != "" {
		raw, err := json.Marshal(map[string]branchInfo{"public": {BuildID: buildID}})
		if err != nil {
			return nil, err
		}
		table[branchesKey] = raw
	}
	plain, err := json.Marshal(table)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(plain, nil), nil
}

// decodeDepots reverses encodeDepots.
func (c *MetadataCache) decodeDepots(blob []byte) (map[string]accela.DepotInfo, string, error) {
	plain, err := c.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, "", fmt.Errorf("zstd decompress: %w", err)
	}
	var table map[string]json.RawMessage
	if err := json.Unmarshal(plain, &table); err != nil {
		return nil, "", fmt.Errorf("unmarshal depot table: %w", err)
	}

	var buildID string
	if raw, ok := table[branchesKey]; ok {
		var branches map[string]branchInfo
		if err := json.Unmarshal(raw, &branches); err == nil {
			buildID = branches["public"].BuildID
		}
		delete(table, branchesKey)
	}

	depots := make(map[string]accela.DepotInfo, len(table))
	for depotID, raw := range table {
		var info accela.DepotInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, "", fmt.Errorf("unmarshal depot %s: %w", depotID, err)
		}
		depots[depotID] = info
	}
	return depots, buildID, nil
}
