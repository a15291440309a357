package accela

import "time"

// OSList identifies which operating systems a depot targets.
type OSList string

const (
	OSWindows OSList = "windows"
	OSLinux   OSList = "linux"
	OSMacOS   OSList = "macos"
	OSAll     OSList = "all"
	OSUnknown OSList = "unknown"
)

// ParseOSList normalizes a raw oslist value from a remote source.
func ParseOSList(raw string) OSList {
	switch OSList(raw) {
	case OSWindows, OSLinux, OSMacOS, OSAll:
		return OSList(raw)
	default:
		return OSUnknown
	}
}

// DepotInfo describes one content depot of a Steam app.
//
// DecryptionKey is only ever populated for archive-derived depots and is
// never written to the persistent metadata cache; it lives in per-job key
// files only.
type DepotInfo struct {
	Name          string `json:"name,omitempty"`
	OSList        OSList `json:"oslist,omitempty"`
	Language      string `json:"language,omitempty"`
	SteamDeck     bool   `json:"steamdeck,omitempty"`
	SizeBytes     int64  `json:"size,omitempty"`
	ManifestID    string `json:"manifest_id,omitempty"`
	Description   string `json:"desc,omitempty"`
	DecryptionKey string `json:"-"`
}

// AppMetadata is the unified per-app metadata record, whether it came from
// the cache or from the remote product-info/storefront sources.
type AppMetadata struct {
	AppID      string
	Name       string
	InstallDir string
	HeaderURL  string
	BuildID    string
	Depots     map[string]DepotInfo
	Updated    time.Time
}

// Empty reports whether the metadata carries nothing worth caching.
func (m AppMetadata) Empty() bool {
	return len(m.Depots) == 0 && m.InstallDir == "" && m.BuildID == "" && m.HeaderURL == ""
}

// GameData is the result of ingesting a distribution archive: the primary
// app, its downloadable depots (with decryption keys), DLC descriptions,
// the depot->manifest map extracted from the archive, and the enrichment
// pulled in from the metadata resolver.
type GameData struct {
	AppID    string
	GameName string

	// Depots that survived blacklist and soundtrack filtering, keyed by
	// depot id. Keys carry the archive decryption key.
	Depots map[string]DepotInfo

	// DLCs maps DLC app id -> human description. DLC entries are never
	// downloaded; they only feed wrapper-mode applist registration.
	DLCs map[string]string

	// Manifests maps depot id -> manifest id for every .manifest file
	// found in the archive.
	Manifests map[string]string

	// ScriptSizes maps depot id -> byte size parsed from setManifestid
	// directives. Used only when the resolver has no size for a depot.
	ScriptSizes map[string]int64

	InstallDir string
	HeaderURL  string
	BuildID    string
}

// InstallFolderName derives the on-disk install folder for this game:
// resolver-provided install dir, else the sanitized game name, else an
// App_{appid} fallback.
func (g GameData) InstallFolderName() string {
	if g.InstallDir != "" {
		return g.InstallDir
	}
	if s := SanitizeFolderName(g.GameName); s != "" {
		return s
	}
	return "App_" + g.AppID
}

// UpdateStatus classifies an installed game against the currently
// published manifest for its main depot.
type UpdateStatus string

const (
	UpdateStatusChecking        UpdateStatus = "checking"
	UpdateStatusUpToDate        UpdateStatus = "up_to_date"
	UpdateStatusAvailable       UpdateStatus = "update_available"
	UpdateStatusCannotDetermine UpdateStatus = "cannot_determine"
)

// InstalledGame is one entry of the local game library, discovered by
// scanning Steam library folders for installs we created.
type InstalledGame struct {
	AppID        string
	Name         string
	InstallDir   string
	InstallPath  string
	LibraryPath  string
	SizeOnDisk   int64
	BuildID      string
	UpdateStatus UpdateStatus
}

// ValidAppID reports whether an app id is plausible enough to query remote
// services for. Library scans record "0" for installs whose ACF file could
// not be matched.
func ValidAppID(appid string) bool {
	switch appid {
	case "", "0", "N/A", "unknown":
		return false
	}
	for _, r := range appid {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
