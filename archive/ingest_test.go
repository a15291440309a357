package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

type stubResolver struct {
	meta *accela.AppMetadata
}

func (s *stubResolver) Resolve(ctx context.Context, appID string) *accela.AppMetadata {
	if s.meta != nil {
		return s.meta
	}
	return &accela.AppMetadata{AppID: appID}
}

// writeZip builds a zip archive on the in-memory filesystem.
func writeZip(t *testing.T, fs afero.Fs, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func testIngestor(fs afero.Fs, resolver Resolver) *Ingestor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(fs, resolver, "/staging", nil, logger)
}

func TestIngestClassifiesDepotsAndDLC(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/game.zip", map[string]string{
		"100.lua": `addappid(100) -- My Game
addappid(101) -- Story DLC
addappid(102, 1, "KEY1") -- Windows Content
`,
	})

	game, err := testIngestor(fs, &stubResolver{}).Run(context.Background(), "/in/game.zip")
	require.NoError(t, err)

	assert.Equal(t, "100", game.AppID)
	assert.Equal(t, "My Game", game.GameName)
	require.Len(t, game.DLCs, 1)
	assert.Equal(t, "Story DLC", game.DLCs["101"])
	require.Len(t, game.Depots, 1)
	assert.Equal(t, "KEY1", game.Depots["102"].DecryptionKey)
}

func TestIngestExtractsManifestsToStaging(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/game.zip", map[string]string{
		"100.lua": `addappid(100) -- My Game
addappid(102, 1, "KEY1") -- Content
setManifestid(102, "9988776655", 4096)
`,
		"102_9988776655.manifest": "binary-manifest-bytes",
	})

	game, err := testIngestor(fs, &stubResolver{}).Run(context.Background(), "/in/game.zip")
	require.NoError(t, err)

	assert.Equal(t, "9988776655", game.Manifests["102"])
	assert.Equal(t, "9988776655", game.Depots["102"].ManifestID)
	assert.Equal(t, int64(4096), game.Depots["102"].SizeBytes)

	staged, err := afero.ReadFile(fs, "/staging/102_9988776655.manifest")
	require.NoError(t, err)
	assert.Equal(t, "binary-manifest-bytes", string(staged))
}

func TestIngestCuratedDescriptionsOverrideScript(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/game.zip", map[string]string{
		"100.lua": `addappid(100) -- My Game
addappid(101) -- dlc
addappid(102, 1, "KEY1") -- content
`,
	})
	require.NoError(t, afero.WriteFile(fs, "/res/depots.ini", []byte(`[depots]
101 = Story Expansion
102 = High-Res Texture Pack
`), 0o644))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	known := LoadDepotDescriptions(fs, "/res/depots.ini", logger)
	require.Len(t, known, 2)

	ingestor := New(fs, &stubResolver{}, "/staging", known, logger)
	game, err := ingestor.Run(context.Background(), "/in/game.zip")
	require.NoError(t, err)

	assert.Equal(t, "Story Expansion", game.DLCs["101"])
	assert.Equal(t, "High-Res Texture Pack", game.Depots["102"].Description)
}

func TestLoadDepotDescriptionsToleratesMissingFile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	known := LoadDepotDescriptions(afero.NewMemMapFs(), "/nope/depots.ini", logger)
	assert.Empty(t, known)
}

func TestIngestDropsSoundtrackDepots(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/game.zip", map[string]string{
		"100.lua": `addappid(100) -- My Game
addappid(102, 1, "KEY1") -- Original Soundtrack
addappid(103, 1, "KEY2") -- Windows Content
`,
	})

	resolver := &stubResolver{meta: &accela.AppMetadata{
		AppID: "100",
		Depots: map[string]accela.DepotInfo{
			"102": {OSList: accela.OSWindows},
			"103": {OSList: accela.OSWindows},
		},
	}}
	game, err := testIngestor(fs, resolver).Run(context.Background(), "/in/game.zip")
	require.NoError(t, err)

	assert.NotContains(t, game.Depots, "102")
	require.Contains(t, game.Depots, "103")
	assert.Equal(t, "[WINDOWS] Windows Content", game.Depots["103"].Description)
}

func TestIngestDropsBlacklistedDepots(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/game.zip", map[string]string{
		"100.lua": `addappid(100) -- My Game
addappid(228983, 1, "KEY") -- Steamworks Redist
addappid(103, 1, "KEY2") -- Content
`,
	})

	game, err := testIngestor(fs, &stubResolver{}).Run(context.Background(), "/in/game.zip")
	require.NoError(t, err)

	assert.NotContains(t, game.Depots, "228983")
	assert.Contains(t, game.Depots, "103")
}

func TestIngestEmptyDepotSetIsValid(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/game.zip", map[string]string{
		"100.lua": `addappid(100) -- My Game
addappid(101) -- DLC only
`,
	})

	game, err := testIngestor(fs, &stubResolver{}).Run(context.Background(), "/in/game.zip")
	require.NoError(t, err)
	assert.Empty(t, game.Depots)
	assert.Len(t, game.DLCs, 1)
}

func TestIngestMissingScriptIsParseError(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/empty.zip", map[string]string{
		"readme.txt": "nothing here",
	})

	_, err := testIngestor(fs, &stubResolver{}).Run(context.Background(), "/in/empty.zip")
	var parseErr *accela.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestIngestNoDirectivesIsParseError(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/bad.zip", map[string]string{
		"100.lua": "-- just comments\n",
	})

	_, err := testIngestor(fs, &stubResolver{}).Run(context.Background(), "/in/bad.zip")
	var parseErr *accela.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestDecorateDescription(t *testing.T) {
	depot := accela.DepotInfo{
		OSList:      accela.OSLinux,
		SteamDeck:   true,
		Language:    "english",
		Description: "Base Content",
	}
	assert.Equal(t, "[LINUX] [DECK] Base Content (English)", decorateDescription(depot))
}
