package steamfiles

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// InstalledDepot is one depot entry of a generated appmanifest.
type InstalledDepot struct {
	DepotID    string
	ManifestID string
	SizeBytes  int64
}

// AppManifest is a Steam-compatible appmanifest_{appid}.acf record.
// PlatformOverride carries the source platform when the install mixes
// depots from a platform other than the host (Steam then launches the
// title through its compatibility tooling).
type AppManifest struct {
	AppID            string
	Name             string
	InstallDir       string
	BuildID          string
	SizeOnDisk       int64
	Depots           []InstalledDepot
	PlatformOverride string
}

// AppManifestPath returns the ACF location for an app within a
// steamapps directory.
func AppManifestPath(steamappsDir, appID string) string {
	return filepath.Join(steamappsDir, "appmanifest_"+appID+".acf")
}

// WriteAppManifest renders and writes the ACF file so Steam picks the
// install up on next restart.
func WriteAppManifest(fs afero.Fs, steamappsDir string, m AppManifest) error {
	var b strings.Builder
	b.WriteString("\"AppState\"\n{\n")
	writeKV(&b, 1, "appid", m.AppID)
	writeKV(&b, 1, "Universe", "1")
	writeKV(&b, 1, "name", m.Name)
	writeKV(&b, 1, "StateFlags", "4")
	writeKV(&b, 1, "installdir", m.InstallDir)
	if m.BuildID != "" {
		writeKV(&b, 1, "buildid", m.BuildID)
	}
	writeKV(&b, 1, "SizeOnDisk", strconv.FormatInt(m.SizeOnDisk, 10))

	if len(m.Depots) > 0 {
		b.WriteString("\t\"InstalledDepots\"\n\t{\n")
		depots := append([]InstalledDepot(nil), m.Depots...)
		sort.Slice(depots, func(i, j int) bool { return depots[i].DepotID < depots[j].DepotID })
		for _, depot := range depots {
			fmt.Fprintf(&b, "\t\t\"%s\"\n\t\t{\n", depot.DepotID)
			writeKV(&b, 3, "manifest", depot.ManifestID)
			writeKV(&b, 3, "size", strconv.FormatInt(depot.SizeBytes, 10))
			b.WriteString("\t\t}\n")
		}
		b.WriteString("\t}\n")
	}

	if m.PlatformOverride != "" {
		b.WriteString("\t\"UserConfig\"\n\t{\n")
		writeKV(&b, 2, "platform_override_source", m.PlatformOverride)
		writeKV(&b, 2, "platform_override_dest", "linux")
		b.WriteString("\t}\n")
	}
	b.WriteString("}\n")

	if err := fs.MkdirAll(steamappsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", steamappsDir, err)
	}
	path := AppManifestPath(steamappsDir, m.AppID)
	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeKV(b *strings.Builder, indent int, key, value string) {
	b.WriteString(strings.Repeat("\t", indent))
	fmt.Fprintf(b, "%q\t\t%q\n", key, value)
}

var acfPairPattern = regexp.MustCompile(`"([^"]+)"\s+"([^"]*)"`)

// ParseAppManifest extracts the top-level fields the library scan
// needs from an ACF file. Nested blocks are walked flatly; for the
// fields of interest the first occurrence is always the top-level one.
func ParseAppManifest(fs afero.Fs, path string) (AppManifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return AppManifest{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	fields := map[string]string{}
	for _, m := range acfPairPattern.FindAllStringSubmatch(string(data), -1) {
		key := strings.ToLower(m[1])
		if _, seen := fields[key]; !seen {
			fields[key] = m[2]
		}
	}

	manifest := AppManifest{
		AppID:      fields["appid"],
		Name:       fields["name"],
		InstallDir: fields["installdir"],
		BuildID:    fields["buildid"],
	}
	manifest.SizeOnDisk, _ = strconv.ParseInt(fields["sizeondisk"], 10, 64)
	if manifest.AppID == "" {
		return AppManifest{}, fmt.Errorf("%s: no appid field", path)
	}
	return manifest, nil
}
