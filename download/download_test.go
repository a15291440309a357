package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testGame() *accela.GameData {
	return &accela.GameData{
		AppID:    "100",
		GameName: "My Game",
		Depots: map[string]accela.DepotInfo{
			"101": {ManifestID: "111", SizeBytes: 1000, DecryptionKey: "AA"},
			"102": {SizeBytes: 2000, DecryptionKey: "BB"},
			"103": {ManifestID: "333", SizeBytes: 3000, DecryptionKey: "CC"},
		},
		Manifests: map[string]string{"101": "111", "103": "333"},
	}
}

func TestPlanDepotsSkipsMissingManifests(t *testing.T) {
	planned, skipped := planDepots(testGame(), []string{"101", "102", "103", "999"}, quietLogger())

	if len(planned) != 2 {
		t.Fatalf("planned %d depots, want 2", len(planned))
	}
	// Caller order is preserved.
	if planned[0].id != "101" || planned[1].id != "103" {
		t.Errorf("planned order = %s, %s", planned[0].id, planned[1].id)
	}
	if len(skipped) != 2 {
		t.Fatalf("skipped %d depots, want 2", len(skipped))
	}
}

func TestWriteKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depot_keys.txt")
	if err := writeKeyFile(path, testGame(), []string{"103", "101"}); err != nil {
		t.Fatalf("writeKeyFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "103;CC\n101;AA\n"
	if string(data) != want {
		t.Errorf("key file = %q, want %q", string(data), want)
	}
}

func TestRunFailsFastWithoutManifests(t *testing.T) {
	task := NewTask(DefaultConfig(), quietLogger())
	game := &accela.GameData{AppID: "100", Depots: map[string]accela.DepotInfo{}}

	err := task.Run(context.Background(), game, nil, t.TempDir())
	if !errors.Is(err, accela.ErrNoManifests) {
		t.Fatalf("err = %v, want ErrNoManifests", err)
	}
	if task.State() != StateErrored {
		t.Errorf("state = %s, want errored", task.State())
	}
}

func TestRunFailsFastWhenDownloaderMissing(t *testing.T) {
	config := DefaultConfig()
	config.DownloaderPath = filepath.Join(t.TempDir(), "no-such-binary")
	config.StagingDir = t.TempDir()
	task := NewTask(config, quietLogger())

	err := task.Run(context.Background(), testGame(), []string{"101"}, t.TempDir())
	if !errors.Is(err, accela.ErrDownloaderMissing) {
		t.Fatalf("err = %v, want ErrDownloaderMissing", err)
	}
}

func TestEnsurePlayNotOwnedPreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SLSsteam", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("SomeSetting: 7\nPlayNotOwnedGames: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsurePlayNotOwned(path); err != nil {
		t.Fatalf("EnsurePlayNotOwned: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var config map[string]interface{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("parse rewritten config: %v", err)
	}
	if config["PlayNotOwnedGames"] != true {
		t.Error("PlayNotOwnedGames was not enabled")
	}
	if config["SomeSetting"] != 7 {
		t.Errorf("SomeSetting = %v, want 7", config["SomeSetting"])
	}
}

func TestEnsurePlayNotOwnedCreatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SLSsteam", "config.yaml")
	if err := EnsurePlayNotOwned(path); err != nil {
		t.Fatalf("EnsurePlayNotOwned: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config was not created: %v", err)
	}
}
