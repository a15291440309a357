package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

func testCache(t *testing.T) *MetadataCache {
	t.Helper()
	config := DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "metadata.db")
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cache, err := New(config, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := testCache(t)

	meta := &accela.AppMetadata{
		AppID:      "440",
		Name:       "Team Fortress 2",
		InstallDir: "Team Fortress 2",
		HeaderURL:  "https://cdn.example.com/store_item_assets/steam/apps/440/header.jpg?t=12345",
		BuildID:    "987654",
		Depots: map[string]accela.DepotInfo{
			"441": {
				Name:          "TF2 Content",
				OSList:        accela.OSAll,
				SizeBytes:     22 << 30,
				ManifestID:    "1118032470228587934",
				DecryptionKey: "deadbeef",
			},
			"442": {
				Name:       "TF2 Binaries",
				OSList:     accela.OSWindows,
				ManifestID: "5566778899",
			},
		},
	}
	if err := cache.Upsert(meta); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := cache.Get("440")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cache hit, got miss")
	}
	if got.Name != meta.Name {
		t.Errorf("name = %q, want %q", got.Name, meta.Name)
	}
	if got.BuildID != "987654" {
		t.Errorf("buildid = %q, want 987654", got.BuildID)
	}
	// Header URL is re-rooted onto the canonical CDN, query dropped.
	want := headerCDNBase + "440/header.jpg"
	if got.HeaderURL != want {
		t.Errorf("header = %q, want %q", got.HeaderURL, want)
	}
	if len(got.Depots) != 2 {
		t.Fatalf("got %d depots, want 2", len(got.Depots))
	}
	if got.Depots["441"].ManifestID != "1118032470228587934" {
		t.Errorf("manifest = %q", got.Depots["441"].ManifestID)
	}
	// Decryption keys must never survive a trip through the cache.
	if got.Depots["441"].DecryptionKey != "" {
		t.Errorf("decryption key was persisted: %q", got.Depots["441"].DecryptionKey)
	}
}

func TestCacheExpiredRowIsMiss(t *testing.T) {
	cache := testCache(t)

	meta := &accela.AppMetadata{AppID: "730", Name: "Counter-Strike 2"}
	if err := cache.Upsert(meta); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	cache.now = func() time.Time { return time.Now().Add(Expiration + time.Hour) }

	got, err := cache.Get("730")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected expired row to read as a miss")
	}
}

func TestCacheCorruptBlobKeepsRow(t *testing.T) {
	cache := testCache(t)

	meta := &accela.AppMetadata{
		AppID:     "570",
		Name:      "Dota 2",
		HeaderURL: headerCDNBase + "570/header.jpg",
		Depots:    map[string]accela.DepotInfo{"571": {Name: "Content"}},
	}
	if err := cache.Upsert(meta); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := cache.db.Exec("UPDATE apps SET depots_blob = ? WHERE appid = 570", []byte("not zstd")); err != nil {
		t.Fatalf("failed to corrupt blob: %v", err)
	}

	got, err := cache.Get("570")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit despite blob corruption")
	}
	if got.Name != "Dota 2" {
		t.Errorf("name = %q", got.Name)
	}
	if len(got.Depots) != 0 {
		t.Errorf("expected empty depot table, got %d entries", len(got.Depots))
	}
}

func TestCacheDegradedIsNoOp(t *testing.T) {
	cache := testCache(t)
	cache.degraded = true

	if err := cache.Upsert(&accela.AppMetadata{AppID: "10", Name: "CS"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := cache.Get("10")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatal("degraded cache must always miss")
	}
}

func TestNormalizeHeaderPath(t *testing.T) {
	cases := []struct {
		url, appid, want string
	}{
		{"", "10", ""},
		{"https://cdn.akamai.steamstatic.com/steam/apps/10/header.jpg", "10", "10/header.jpg"},
		{"https://cdn.example.com/store_item_assets/steam/apps/10/header.jpg?t=99", "10", "10/header.jpg"},
		{"https://example.com/images/banner.png", "10", "10/header.jpg"},
	}
	for _, tc := range cases {
		if got := normalizeHeaderPath(tc.url, tc.appid); got != tc.want {
			t.Errorf("normalizeHeaderPath(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
