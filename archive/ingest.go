// Package archive ingests distribution archives: zip containers
// holding one manifest script plus the binary depot manifests it
// references. Ingest parses the script, extracts the manifests into
// the shared staging directory, strips blacklisted and soundtrack
// depots, and enriches the survivors through the metadata resolver.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// manifestFilePattern matches embedded depot manifests: {depot}_{manifestid}.manifest.
var manifestFilePattern = regexp.MustCompile(`^(\d+)_(\d+)\.manifest$`)

// soundtrackPattern excludes depots whose decorated description marks
// them as music content; soundtracks are never offered for download.
var soundtrackPattern = regexp.MustCompile(`(?i)soundtrack|\bost\b`)

// Resolver is the slice of the metadata resolver the ingestor needs.
type Resolver interface {
	Resolve(ctx context.Context, appID string) *accela.AppMetadata
}

// Ingestor parses distribution archives into GameData.
type Ingestor struct {
	fs         afero.Fs
	resolver   Resolver
	stagingDir string
	// known maps depot/DLC ids to curated labels from depots.ini;
	// they take precedence over script comments.
	known  map[string]string
	logger *logrus.Logger
}

// New builds an Ingestor that extracts manifests into stagingDir.
// known carries curated depot descriptions (LoadDepotDescriptions) and
// may be nil.
func New(fs afero.Fs, resolver Resolver, stagingDir string, known map[string]string, logger *logrus.Logger) *Ingestor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ingestor{
		fs:         fs,
		resolver:   resolver,
		stagingDir: stagingDir,
		known:      known,
		logger:     logger,
	}
}

// Run ingests the archive at archivePath. It either returns complete
// GameData or a ParseError; it never leaves partial state in the
// caller. An archive whose every depot is filtered out yields a valid
// result with an empty depot set.
func (in *Ingestor) Run(ctx context.Context, archivePath string) (*accela.GameData, error) {
	f, err := in.fs.Open(archivePath)
	if err != nil {
		return nil, accela.NewParseError(archivePath, "failed to open archive: %v", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, accela.NewParseError(archivePath, "failed to stat archive: %v", err)
	}
	reader, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return nil, accela.NewParseError(archivePath, "not a readable zip archive: %v", err)
	}

	script, err := in.parseScriptEntry(archivePath, reader)
	if err != nil {
		return nil, err
	}

	manifests, err := in.extractManifests(reader)
	if err != nil {
		return nil, accela.NewParseError(archivePath, "failed to extract manifests: %v", err)
	}

	game := &accela.GameData{
		AppID:       script.appID,
		GameName:    script.gameName,
		Depots:      map[string]accela.DepotInfo{},
		DLCs:        map[string]string{},
		Manifests:   manifests,
		ScriptSizes: script.sizes,
	}

	for _, entry := range script.entries {
		description := entry.description
		if curated, ok := in.known[entry.id]; ok {
			description = curated
		}
		if entry.key == "" {
			game.DLCs[entry.id] = description
			continue
		}
		if blacklisted(entry.id) {
			in.logger.WithFields(logrus.Fields{
				"appid": script.appID,
				"depot": entry.id,
			}).Debug("Dropping blacklisted depot")
			continue
		}
		game.Depots[entry.id] = accela.DepotInfo{
			Description:   description,
			DecryptionKey: entry.key,
		}
	}

	in.enrich(ctx, game)

	in.logger.WithFields(logrus.Fields{
		"appid":     game.AppID,
		"name":      game.GameName,
		"depots":    len(game.Depots),
		"dlcs":      len(game.DLCs),
		"manifests": len(game.Manifests),
	}).Info("Ingested archive")
	return game, nil
}

// parseScriptEntry locates and parses the manifest script inside the
// archive.
func (in *Ingestor) parseScriptEntry(archivePath string, reader *zip.Reader) (*parsedScript, error) {
	for _, entry := range reader.File {
		if !strings.EqualFold(path.Ext(entry.Name), ".lua") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, accela.NewParseError(archivePath, "failed to open script %s: %v", entry.Name, err)
		}
		script, err := parseScript(entry.Name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		return script, nil
	}
	return nil, accela.NewParseError(archivePath, "archive contains no manifest script")
}

// extractManifests copies every {depot}_{manifestid}.manifest entry
// into the staging directory and returns the depot->manifest map.
func (in *Ingestor) extractManifests(reader *zip.Reader) (map[string]string, error) {
	manifests := map[string]string{}
	if err := in.fs.MkdirAll(in.stagingDir, 0o755); err != nil {
		return nil, err
	}
	for _, entry := range reader.File {
		name := path.Base(entry.Name)
		m := manifestFilePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", entry.Name, err)
		}
		dst, err := in.fs.Create(filepath.Join(in.stagingDir, name))
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to stage %s: %w", name, err)
		}
		_, err = io.Copy(dst, rc)
		rc.Close()
		dst.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		manifests[m[1]] = m[2]
	}
	return manifests, nil
}

// enrich folds resolver metadata into the archive-derived depot set:
// install dir, build id and header for the app; OS/language/Deck tags,
// sizes and decorated descriptions per depot. Depots whose decorated
// description looks like a soundtrack are dropped.
func (in *Ingestor) enrich(ctx context.Context, game *accela.GameData) {
	var meta *accela.AppMetadata
	if in.resolver != nil {
		meta = in.resolver.Resolve(ctx, game.AppID)
	}
	if meta == nil {
		meta = &accela.AppMetadata{AppID: game.AppID}
	}

	if game.GameName == "" {
		game.GameName = meta.Name
	}
	game.InstallDir = meta.InstallDir
	game.HeaderURL = meta.HeaderURL
	game.BuildID = meta.BuildID

	for depotID, depot := range game.Depots {
		remote, known := meta.Depots[depotID]
		if known {
			depot.Name = remote.Name
			depot.OSList = remote.OSList
			depot.Language = remote.Language
			depot.SteamDeck = remote.SteamDeck
		}
		if remote.SizeBytes > 0 {
			depot.SizeBytes = remote.SizeBytes
		} else if size, ok := game.ScriptSizes[depotID]; ok {
			depot.SizeBytes = size
		}
		if manifest, ok := game.Manifests[depotID]; ok {
			depot.ManifestID = manifest
		}
		depot.Description = decorateDescription(depot)

		if soundtrackPattern.MatchString(depot.Description) {
			in.logger.WithFields(logrus.Fields{
				"appid": game.AppID,
				"depot": depotID,
				"desc":  depot.Description,
			}).Debug("Dropping soundtrack depot")
			delete(game.Depots, depotID)
			continue
		}
		game.Depots[depotID] = depot
	}
}

// decorateDescription renders the user-facing depot label:
// "[OS] [DECK] description (Language)".
func decorateDescription(depot accela.DepotInfo) string {
	var parts []string
	if depot.OSList != "" && depot.OSList != accela.OSUnknown {
		parts = append(parts, "["+strings.ToUpper(string(depot.OSList))+"]")
	}
	if depot.SteamDeck {
		parts = append(parts, "[DECK]")
	}
	desc := depot.Description
	if desc == "" {
		desc = depot.Name
	}
	if desc != "" {
		parts = append(parts, desc)
	}
	if depot.Language != "" {
		parts = append(parts, "("+titleCase(depot.Language)+")")
	}
	return strings.Join(parts, " ")
}

// titleCase capitalizes a lowercase language name ("english" -> "English").
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
