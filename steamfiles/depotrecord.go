// Package steamfiles reads and writes the Steam-adjacent files the
// pipeline leaves on disk: appmanifest ACF files, per-install depot
// records, and compatibility-wrapper applist registrations. All IO
// goes through an afero filesystem so tests run in memory.
package steamfiles

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DownloaderDirName is the marker directory the depot downloader
// creates inside every install it produced. Its presence is how the
// library scan tells our installs apart from Steam's own.
const DownloaderDirName = ".DepotDownloader"

// depotRecordName is the file inside DownloaderDirName that records
// which manifest the install was downloaded from.
const depotRecordName = "depot.record"

// DepotRecord is the persisted last-known manifest for one install:
// the install's main depot and the manifest it was downloaded at.
type DepotRecord struct {
	DepotID    string
	ManifestID string
}

// DepotRecordPath returns where the record lives for an install dir.
func DepotRecordPath(installPath string) string {
	return filepath.Join(installPath, DownloaderDirName, depotRecordName)
}

// WriteDepotRecord overwrites the record after a successful download.
// Format: one line, "{depot_id}: {manifest_id}".
func WriteDepotRecord(fs afero.Fs, installPath string, record DepotRecord) error {
	dir := filepath.Join(installPath, DownloaderDirName)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	line := fmt.Sprintf("%s: %s\n", record.DepotID, record.ManifestID)
	if err := afero.WriteFile(fs, DepotRecordPath(installPath), []byte(line), 0o644); err != nil {
		return fmt.Errorf("failed to write depot record: %w", err)
	}
	return nil
}

// ReadDepotRecord loads the record for an install. A missing or
// malformed file returns ok=false; update checks treat that as
// indeterminate rather than an error.
func ReadDepotRecord(fs afero.Fs, installPath string) (DepotRecord, bool) {
	data, err := afero.ReadFile(fs, DepotRecordPath(installPath))
	if err != nil {
		return DepotRecord{}, false
	}
	line := strings.TrimSpace(string(data))
	depotID, manifestID, found := strings.Cut(line, ":")
	if !found {
		return DepotRecord{}, false
	}
	record := DepotRecord{
		DepotID:    strings.TrimSpace(depotID),
		ManifestID: strings.TrimSpace(manifestID),
	}
	if record.DepotID == "" || record.ManifestID == "" {
		return DepotRecord{}, false
	}
	return record, true
}
