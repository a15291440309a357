package library

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/steamfiles"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func seedInstall(t *testing.T, fs afero.Fs, libraryPath, installDir, appID, name string) {
	t.Helper()
	installPath := libraryPath + "/steamapps/common/" + installDir
	require.NoError(t, fs.MkdirAll(installPath+"/"+steamfiles.DownloaderDirName, 0o755))
	require.NoError(t, afero.WriteFile(fs, installPath+"/game.bin", make([]byte, 2048), 0o644))
	require.NoError(t, steamfiles.WriteAppManifest(fs, libraryPath+"/steamapps", steamfiles.AppManifest{
		AppID:      appID,
		Name:       name,
		InstallDir: installDir,
		BuildID:    "11",
	}))
}

func TestScanFindsOnlyDownloaderInstalls(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedInstall(t, fs, "/lib", "My_Game", "100", "My Game")

	// A regular Steam install without the marker directory.
	require.NoError(t, fs.MkdirAll("/lib/steamapps/common/Vanilla", 0o755))

	lib, err := New(fs, []string{"/lib"}, quietLogger())
	require.NoError(t, err)

	games, err := lib.Scan()
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "100", games[0].AppID)
	assert.Equal(t, "My Game", games[0].Name)
	assert.Equal(t, "11", games[0].BuildID)
	// SizeOnDisk was 0 in the ACF, so the walk fallback kicked in.
	assert.Equal(t, int64(2048), games[0].SizeOnDisk)
}

func TestScanUnmatchedInstallGetsZeroAppID(t *testing.T) {
	fs := afero.NewMemMapFs()
	installPath := "/lib/steamapps/common/Orphan"
	require.NoError(t, fs.MkdirAll(installPath+"/"+steamfiles.DownloaderDirName, 0o755))

	lib, err := New(fs, []string{"/lib"}, quietLogger())
	require.NoError(t, err)

	games, err := lib.Scan()
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "0", games[0].AppID)
	assert.False(t, accela.ValidAppID(games[0].AppID))
}

func TestGetAndSetUpdateStatus(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedInstall(t, fs, "/lib", "My_Game", "100", "My Game")

	lib, err := New(fs, []string{"/lib"}, quietLogger())
	require.NoError(t, err)
	_, err = lib.Scan()
	require.NoError(t, err)

	game, ok := lib.Get("100")
	require.True(t, ok)
	assert.Equal(t, accela.UpdateStatusChecking, game.UpdateStatus)

	lib.SetUpdateStatus("100", accela.UpdateStatusUpToDate)
	game, ok = lib.Get("100")
	require.True(t, ok)
	assert.Equal(t, accela.UpdateStatusUpToDate, game.UpdateStatus)
}

func TestUninstallRemovesFilesAndIndexEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedInstall(t, fs, "/lib", "My_Game", "100", "My Game")

	lib, err := New(fs, []string{"/lib"}, quietLogger())
	require.NoError(t, err)
	_, err = lib.Scan()
	require.NoError(t, err)

	require.NoError(t, lib.Uninstall("100"))

	exists, _ := afero.DirExists(fs, "/lib/steamapps/common/My_Game")
	assert.False(t, exists)
	acfExists, _ := afero.Exists(fs, "/lib/steamapps/appmanifest_100.acf")
	assert.False(t, acfExists)
	_, ok := lib.Get("100")
	assert.False(t, ok)
	assert.Empty(t, lib.Games())
}
