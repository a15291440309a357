// Package library maintains the index of installed games. Installs
// are discovered by scanning Steam library folders for directories the
// depot downloader produced (marked by its .DepotDownloader
// directory), matched back to their appmanifest ACF files. The index
// lives in an in-memory database so the TUI and update checks read a
// consistent snapshot while scans and status updates rewrite it.
package library

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-memdb"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/steamfiles"
)

const gamesTable = "games"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		gamesTable: {
			Name: gamesTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "InstallPath"},
				},
				"appid": {
					Name:         "appid",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "AppID"},
				},
			},
		},
	},
}

// Library indexes installed games across one or more Steam library
// folders.
type Library struct {
	fs           afero.Fs
	db           *memdb.MemDB
	libraryPaths []string
	logger       *logrus.Logger
}

// New builds a Library over the given Steam library folders (each one
// containing a steamapps/ directory).
func New(fs afero.Fs, libraryPaths []string, logger *logrus.Logger) (*Library, error) {
	if logger == nil {
		logger = logrus.New()
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create library index: %w", err)
	}
	return &Library{
		fs:           fs,
		db:           db,
		libraryPaths: libraryPaths,
		logger:       logger,
	}, nil
}

// Scan rescans every library folder and replaces the index contents.
// It returns the freshly discovered games.
func (l *Library) Scan() ([]accela.InstalledGame, error) {
	var games []accela.InstalledGame
	for _, libraryPath := range l.libraryPaths {
		found, err := l.scanLibrary(libraryPath)
		if err != nil {
			l.logger.WithError(err).WithField("library", libraryPath).Warn("Library scan failed")
			continue
		}
		games = append(games, found...)
	}

	txn := l.db.Txn(true)
	if _, err := txn.DeleteAll(gamesTable, "id_prefix", ""); err != nil {
		txn.Abort()
		return nil, fmt.Errorf("failed to clear library index: %w", err)
	}
	for i := range games {
		if err := txn.Insert(gamesTable, &games[i]); err != nil {
			txn.Abort()
			return nil, fmt.Errorf("failed to index %s: %w", games[i].InstallPath, err)
		}
	}
	txn.Commit()

	l.logger.WithField("count", len(games)).Info("Library scan complete")
	return games, nil
}

// scanLibrary walks {libraryPath}/steamapps/common for installs that
// carry the downloader marker directory.
func (l *Library) scanLibrary(libraryPath string) ([]accela.InstalledGame, error) {
	steamapps := filepath.Join(libraryPath, "steamapps")
	commonDir := filepath.Join(steamapps, "common")

	entries, err := afero.ReadDir(l.fs, commonDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", commonDir, err)
	}

	manifests := l.loadManifests(steamapps)

	var games []accela.InstalledGame
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		installPath := filepath.Join(commonDir, entry.Name())
		marker := filepath.Join(installPath, steamfiles.DownloaderDirName)
		if ok, _ := afero.DirExists(l.fs, marker); !ok {
			continue
		}

		game := accela.InstalledGame{
			AppID:        "0",
			Name:         entry.Name(),
			InstallDir:   entry.Name(),
			InstallPath:  installPath,
			LibraryPath:  libraryPath,
			UpdateStatus: accela.UpdateStatusChecking,
		}
		if manifest, ok := manifests[entry.Name()]; ok {
			game.AppID = manifest.AppID
			game.Name = manifest.Name
			game.BuildID = manifest.BuildID
			game.SizeOnDisk = manifest.SizeOnDisk
		}
		if game.SizeOnDisk == 0 {
			game.SizeOnDisk = l.directorySize(installPath)
		}
		games = append(games, game)
	}
	return games, nil
}

// loadManifests parses every ACF in the steamapps dir, keyed by
// install dir so installs can be matched back to their app.
func (l *Library) loadManifests(steamapps string) map[string]steamfiles.AppManifest {
	manifests := map[string]steamfiles.AppManifest{}
	matches, err := afero.Glob(l.fs, filepath.Join(steamapps, "appmanifest_*.acf"))
	if err != nil {
		return manifests
	}
	for _, path := range matches {
		manifest, err := steamfiles.ParseAppManifest(l.fs, path)
		if err != nil {
			l.logger.WithError(err).WithField("path", path).Debug("Skipping unreadable appmanifest")
			continue
		}
		manifests[manifest.InstallDir] = manifest
	}
	return manifests
}

// directorySize walks an install summing file sizes, for ACFs that
// recorded no SizeOnDisk.
func (l *Library) directorySize(path string) int64 {
	var total int64
	afero.Walk(l.fs, path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Games returns a point-in-time snapshot of the index.
func (l *Library) Games() []accela.InstalledGame {
	txn := l.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(gamesTable, "id_prefix", "")
	if err != nil {
		return nil
	}
	var games []accela.InstalledGame
	for raw := it.Next(); raw != nil; raw = it.Next() {
		games = append(games, *raw.(*accela.InstalledGame))
	}
	return games
}

// Get returns the indexed install for an AppID.
func (l *Library) Get(appID string) (accela.InstalledGame, bool) {
	txn := l.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(gamesTable, "appid", appID)
	if err != nil || raw == nil {
		return accela.InstalledGame{}, false
	}
	return *raw.(*accela.InstalledGame), true
}

// SetUpdateStatus records an update-check result against the index.
func (l *Library) SetUpdateStatus(appID string, status accela.UpdateStatus) {
	txn := l.db.Txn(true)
	defer txn.Commit()

	raw, err := txn.First(gamesTable, "appid", appID)
	if err != nil || raw == nil {
		return
	}
	game := *raw.(*accela.InstalledGame)
	game.UpdateStatus = status
	txn.Insert(gamesTable, &game)
}

// Uninstall removes a game's install directory and appmanifest from
// disk and drops it from the index.
func (l *Library) Uninstall(appID string) error {
	game, ok := l.Get(appID)
	if !ok {
		return fmt.Errorf("app %s is not in the library index", appID)
	}

	if err := l.fs.RemoveAll(game.InstallPath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", game.InstallPath, err)
	}
	acf := steamfiles.AppManifestPath(filepath.Join(game.LibraryPath, "steamapps"), appID)
	if err := l.fs.Remove(acf); err != nil && !os.IsNotExist(err) {
		l.logger.WithError(err).WithField("path", acf).Warn("Failed to remove appmanifest")
	}

	txn := l.db.Txn(true)
	defer txn.Commit()
	txn.Delete(gamesTable, &game)

	l.logger.WithFields(logrus.Fields{
		"appid": appID,
		"name":  game.Name,
	}).Info("Uninstalled game")
	return nil
}
