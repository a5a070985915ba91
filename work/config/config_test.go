package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"apex-live/work/types"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"baseURL": "http://iptv.local:9000",
		"listenAddr": ":9000",
		"workerThreads": 4,
		"sessionTTL": "2m",
		"playlistCacheTTL": "10s",
		"sources": [
			{"id": "p1", "kind": "portal", "portal": "http://p/c/", "mac": "00:1A:79:00:00:01", "refreshSec": 5, "enabled": true}
		]
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("APEX_LIVE_CONFIG", path)
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	if cfg.BaseURL != "http://iptv.local:9000" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.SessionTTL != 2*time.Minute || cfg.PlaylistCacheTTL != 10*time.Second {
		t.Errorf("durations wrong: %v / %v", cfg.SessionTTL, cfg.PlaylistCacheTTL)
	}

	// unset fields pick up defaults
	if cfg.LogLevel != "info" || cfg.DatabasePath == "" {
		t.Errorf("defaults not applied: level=%q db=%q", cfg.LogLevel, cfg.DatabasePath)
	}

	if len(cfg.Sources) != 1 {
		t.Fatalf("sources = %d", len(cfg.Sources))
	}
	src := cfg.Sources[0]
	if src.RefreshSec != types.MinRefreshSec {
		t.Errorf("RefreshSec = %d, want clamp to %d", src.RefreshSec, types.MinRefreshSec)
	}
	if src.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent default not applied: %q", src.UserAgent)
	}
	if src.StbLang != "en" || src.Timezone != "Europe/London" {
		t.Errorf("portal defaults not applied: %q %q", src.StbLang, src.Timezone)
	}
	if src.Name == "" {
		t.Error("source name default not applied")
	}
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	t.Setenv("APEX_LIVE_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	if cfg.ListenAddr != ":3000" || cfg.WorkerThreads != 8 {
		t.Errorf("default config wrong: %+v", cfg)
	}
}

func TestLoadConfigCached(t *testing.T) {
	t.Setenv("APEX_LIVE_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	first := LoadConfig()
	second := LoadConfig()
	if first != second {
		t.Error("LoadConfig should return the cached instance")
	}

	ClearConfigCache()
	third := LoadConfig()
	if first == third {
		t.Error("ClearConfigCache should force a fresh instance")
	}
}

func TestCreateExampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	if err := CreateExampleConfig(path); err != nil {
		t.Fatal(err)
	}

	t.Setenv("APEX_LIVE_CONFIG", path)
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	if len(cfg.Sources) != 3 {
		t.Fatalf("example sources = %d, want 3", len(cfg.Sources))
	}
	kinds := map[types.SourceKind]bool{}
	for _, src := range cfg.Sources {
		kinds[src.Kind] = true
		if err := src.Validate(); err != nil {
			t.Errorf("example source %s invalid: %v", src.ID, err)
		}
	}
	if !kinds[types.SourceKindPortal] || !kinds[types.SourceKindM3U] || !kinds[types.SourceKindEPG] {
		t.Errorf("example should cover all kinds, got %v", kinds)
	}
}
