package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"apex-live/work/types"
)

// DefaultUserAgent is sent on portal and ingestion requests when a source
// does not override it. It mimics a MAG-class Android TV browser, which is
// what most Stalker portals expect to see.
const DefaultUserAgent = "Mozilla/5.0 (Linux; Android 10; MAG 250) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"

// Config holds all application configuration for the Apex Live backend:
// server identity, worker sizing, cache lifetimes, storage location and
// the seed list of sources loaded into the store on first run.
type Config struct {
	BaseURL          string         `json:"baseURL"`          // public base URL used when rendering proxied links
	ListenAddr       string         `json:"listenAddr"`       // host:port the HTTP server binds to
	DatabasePath     string         `json:"databasePath"`     // sqlite file backing the source/channel/guide store
	LogLevel         string         `json:"logLevel"`         // debug, info, warn, error
	ObfuscateUrls    bool           `json:"obfuscateUrls"`    // mask source URLs in log output
	WorkerThreads    int            `json:"workerThreads"`    // size of the shared refresh worker pool
	SessionTTL       time.Duration  `json:"sessionTTL"`       // how long a portal handshake token is reused
	PlaylistCacheTTL time.Duration  `json:"playlistCacheTTL"` // how long a rendered playlist is served from cache
	Sources          []types.Source `json:"sources"`          // seed sources, merged into the store at startup
}

// configFile mirrors Config for JSON with durations as strings ("30s").
type configFile struct {
	BaseURL          string         `json:"baseURL"`
	ListenAddr       string         `json:"listenAddr"`
	DatabasePath     string         `json:"databasePath"`
	LogLevel         string         `json:"logLevel"`
	ObfuscateUrls    bool           `json:"obfuscateUrls"`
	WorkerThreads    int            `json:"workerThreads"`
	SessionTTL       string         `json:"sessionTTL"`
	PlaylistCacheTTL string         `json:"playlistCacheTTL"`
	Sources          []types.Source `json:"sources"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// DefaultPath is where LoadConfig looks unless APEX_LIVE_CONFIG overrides it.
const DefaultPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached
// instance. Missing or invalid files fall back to defaults, and every value
// is validated before the config is cached for future calls.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	path := DefaultPath
	if env := os.Getenv("APEX_LIVE_CONFIG"); env != "" {
		path = env
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		cfg = getDefaultConfig()
	}

	validateAndSetDefaults(cfg)
	configCache = cfg
	return cfg
}

// ClearConfigCache forces a reload on the next LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

func convertFromFile(cf *configFile) (*Config, error) {
	cfg := &Config{
		BaseURL:       cf.BaseURL,
		ListenAddr:    cf.ListenAddr,
		DatabasePath:  cf.DatabasePath,
		LogLevel:      cf.LogLevel,
		ObfuscateUrls: cf.ObfuscateUrls,
		WorkerThreads: cf.WorkerThreads,
		Sources:       cf.Sources,
	}

	var err error
	if cf.SessionTTL != "" {
		if cfg.SessionTTL, err = time.ParseDuration(cf.SessionTTL); err != nil {
			return nil, fmt.Errorf("invalid sessionTTL: %w", err)
		}
	}
	if cf.PlaylistCacheTTL != "" {
		if cfg.PlaylistCacheTTL, err = time.ParseDuration(cf.PlaylistCacheTTL); err != nil {
			return nil, fmt.Errorf("invalid playlistCacheTTL: %w", err)
		}
	}

	return cfg, nil
}

func getDefaultConfig() *Config {
	return &Config{
		BaseURL:          "http://localhost:3000",
		ListenAddr:       ":3000",
		DatabasePath:     "/settings/apexlive.db",
		LogLevel:         "info",
		ObfuscateUrls:    false,
		WorkerThreads:    8,
		SessionTTL:       5 * time.Minute,
		PlaylistCacheTTL: 30 * time.Second,
		Sources:          []types.Source{},
	}
}

func validateAndSetDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3000"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/settings/apexlive.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 8
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	if cfg.PlaylistCacheTTL <= 0 {
		cfg.PlaylistCacheTTL = 30 * time.Second
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%d", i+1)
		}
		if src.RefreshSec < types.MinRefreshSec {
			src.RefreshSec = types.MinRefreshSec
		}
		if src.RefreshSec > types.MaxRefreshSec {
			src.RefreshSec = types.MaxRefreshSec
		}
		if src.UserAgent == "" {
			src.UserAgent = DefaultUserAgent
		}
		if src.Kind == types.SourceKindPortal {
			if src.StbLang == "" {
				src.StbLang = "en"
			}
			if src.Timezone == "" {
				src.Timezone = "Europe/London"
			}
		}
	}
}

// CreateExampleConfig writes an annotated example config to path.
func CreateExampleConfig(path string) error {
	example := configFile{
		BaseURL:          "http://localhost:3000",
		ListenAddr:       ":3000",
		DatabasePath:     "/settings/apexlive.db",
		LogLevel:         "info",
		ObfuscateUrls:    true,
		WorkerThreads:    8,
		SessionTTL:       "5m",
		PlaylistCacheTTL: "30s",
		Sources: []types.Source{
			{
				ID:         "portal1",
				Kind:       types.SourceKindPortal,
				Name:       "Example Portal",
				Portal:     "http://portal.example.com/stalker_portal/c/",
				MAC:        "00:1A:79:00:00:01",
				StbLang:    "en",
				Timezone:   "Europe/London",
				RefreshSec: 3600,
				Enabled:    true,
			},
			{
				ID:         "m3u1",
				Kind:       types.SourceKindM3U,
				Name:       "Example Playlist",
				URL:        "http://example.com/playlist.m3u",
				RefreshSec: 1800,
				Enabled:    true,
			},
			{
				ID:         "epg1",
				Kind:       types.SourceKindEPG,
				Name:       "Example Guide",
				URL:        "http://example.com/guide.xml.gz",
				RefreshSec: 43200,
				Enabled:    true,
			},
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
