package steamfiles

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepotRecordRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := WriteDepotRecord(fs, "/lib/steamapps/common/MyGame", DepotRecord{
		DepotID:    "101",
		ManifestID: "1118032470228587934",
	})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/lib/steamapps/common/MyGame/.DepotDownloader/depot.record")
	require.NoError(t, err)
	assert.Equal(t, "101: 1118032470228587934\n", string(data))

	record, ok := ReadDepotRecord(fs, "/lib/steamapps/common/MyGame")
	require.True(t, ok)
	assert.Equal(t, "101", record.DepotID)
	assert.Equal(t, "1118032470228587934", record.ManifestID)
}

func TestReadDepotRecordMissingOrMalformed(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, ok := ReadDepotRecord(fs, "/nowhere")
	assert.False(t, ok)

	require.NoError(t, afero.WriteFile(fs,
		"/game/.DepotDownloader/depot.record", []byte("garbage\n"), 0o644))
	_, ok = ReadDepotRecord(fs, "/game")
	assert.False(t, ok)
}

func TestAppManifestRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := WriteAppManifest(fs, "/lib/steamapps", AppManifest{
		AppID:      "100",
		Name:       "My Game",
		InstallDir: "My_Game",
		BuildID:    "987",
		SizeOnDisk: 123456,
		Depots: []InstalledDepot{
			{DepotID: "101", ManifestID: "111", SizeBytes: 1000},
			{DepotID: "102", ManifestID: "222", SizeBytes: 2000},
		},
		PlatformOverride: "windows",
	})
	require.NoError(t, err)

	parsed, err := ParseAppManifest(fs, "/lib/steamapps/appmanifest_100.acf")
	require.NoError(t, err)
	assert.Equal(t, "100", parsed.AppID)
	assert.Equal(t, "My Game", parsed.Name)
	assert.Equal(t, "My_Game", parsed.InstallDir)
	assert.Equal(t, "987", parsed.BuildID)
	assert.Equal(t, int64(123456), parsed.SizeOnDisk)

	raw, err := afero.ReadFile(fs, "/lib/steamapps/appmanifest_100.acf")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"platform_override_source"`)
}

func TestRegisterAppIDsDeduplicatesAndRenumbers(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/greenluma/AppList"

	// Pre-existing registrations with a gap in the numbering.
	require.NoError(t, afero.WriteFile(fs, dir+"/0.txt", []byte("100\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, dir+"/3.txt", []byte("200\n"), 0o644))

	require.NoError(t, RegisterAppIDs(fs, dir, []string{"200", "300"}))

	ids, err := ReadAppList(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200", "300"}, ids)

	// Numbering is contiguous after the rewrite.
	data, err := afero.ReadFile(fs, dir+"/2.txt")
	require.NoError(t, err)
	assert.Equal(t, "300\n", string(data))
	exists, _ := afero.Exists(fs, dir+"/3.txt")
	assert.False(t, exists)
}

func TestUnregisterAppIDs(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/greenluma/AppList"

	require.NoError(t, RegisterAppIDs(fs, dir, []string{"100", "200", "300"}))
	require.NoError(t, UnregisterAppIDs(fs, dir, []string{"200"}))

	ids, err := ReadAppList(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "300"}, ids)
}
