package updatecheck

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/steamfiles"
)

type stubSource struct {
	mu      sync.Mutex
	metas   map[string]*accela.AppMetadata
	fetches int
}

func (s *stubSource) FetchFresh(ctx context.Context, appID string) *accela.AppMetadata {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	if meta, ok := s.metas[appID]; ok {
		return meta
	}
	return &accela.AppMetadata{AppID: appID, Depots: map[string]accela.DepotInfo{}}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func collect(results <-chan Result) map[string]accela.UpdateStatus {
	statuses := map[string]accela.UpdateStatus{}
	for r := range results {
		statuses[r.AppID] = r.Status
	}
	return statuses
}

func TestNoRecordIsAlwaysIndeterminate(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := &stubSource{metas: map[string]*accela.AppMetadata{
		"100": {AppID: "100", Depots: map[string]accela.DepotInfo{
			"101": {ManifestID: "111"},
		}},
	}}
	checker := New(fs, source, DefaultConfig(), quietLogger())

	games := []accela.InstalledGame{{AppID: "100", InstallPath: "/lib/steamapps/common/Game"}}
	statuses := collect(checker.Run(context.Background(), games))

	if statuses["100"] != accela.UpdateStatusCannotDetermine {
		t.Errorf("status = %s, want cannot_determine", statuses["100"])
	}
}

func TestClassification(t *testing.T) {
	fs := afero.NewMemMapFs()

	// up-to-date install
	if err := steamfiles.WriteDepotRecord(fs, "/lib/steamapps/common/Same",
		steamfiles.DepotRecord{DepotID: "101", ManifestID: "111"}); err != nil {
		t.Fatal(err)
	}
	// outdated install
	if err := steamfiles.WriteDepotRecord(fs, "/lib/steamapps/common/Old",
		steamfiles.DepotRecord{DepotID: "201", ManifestID: "OLD"}); err != nil {
		t.Fatal(err)
	}
	// record points at a depot the fresh result does not know
	if err := steamfiles.WriteDepotRecord(fs, "/lib/steamapps/common/Gone",
		steamfiles.DepotRecord{DepotID: "999", ManifestID: "42"}); err != nil {
		t.Fatal(err)
	}

	source := &stubSource{metas: map[string]*accela.AppMetadata{
		"100": {AppID: "100", Depots: map[string]accela.DepotInfo{"101": {ManifestID: "111"}}},
		"200": {AppID: "200", Depots: map[string]accela.DepotInfo{"201": {ManifestID: "NEW"}}},
		"300": {AppID: "300", Depots: map[string]accela.DepotInfo{"301": {ManifestID: "7"}}},
	}}
	checker := New(fs, source, DefaultConfig(), quietLogger())

	games := []accela.InstalledGame{
		{AppID: "100", InstallPath: "/lib/steamapps/common/Same"},
		{AppID: "200", InstallPath: "/lib/steamapps/common/Old"},
		{AppID: "300", InstallPath: "/lib/steamapps/common/Gone"},
		{AppID: "N/A", InstallPath: "/lib/steamapps/common/Unknown"},
	}
	statuses := collect(checker.Run(context.Background(), games))

	want := map[string]accela.UpdateStatus{
		"100": accela.UpdateStatusUpToDate,
		"200": accela.UpdateStatusAvailable,
		"300": accela.UpdateStatusCannotDetermine,
		"N/A": accela.UpdateStatusCannotDetermine,
	}
	for appid, expected := range want {
		if statuses[appid] != expected {
			t.Errorf("app %s: status = %s, want %s", appid, statuses[appid], expected)
		}
	}
	// The implausible AppID never reaches the network.
	if source.fetches != 3 {
		t.Errorf("fetches = %d, want 3", source.fetches)
	}
}

func TestBatchingChunksFetches(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := &stubSource{}
	config := Config{BatchSize: 2, BatchDelay: 0}
	checker := New(fs, source, config, quietLogger())

	games := make([]accela.InstalledGame, 5)
	for i := range games {
		games[i] = accela.InstalledGame{AppID: string(rune('1'+i)) + "00"}
	}
	collect(checker.Run(context.Background(), games))

	if source.fetches != 5 {
		t.Errorf("fetches = %d, want 5", source.fetches)
	}
}
