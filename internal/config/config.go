// Package config loads and holds all proxy configuration.
// Settings are layered: defaults → proxy-config.json → environment variables (env vars win).
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full proxy configuration.
type Config struct {
	ListenAddress   string `json:"listenAddress"`
	ManagementPort  int    `json:"managementPort"`
	LogLevel        string `json:"logLevel"`
	ManagementToken string `json:"managementToken"`

	CACertFile string `json:"caCertFile"`
	CAKeyFile  string `json:"caKeyFile"`

	BaseFiltersURL  string `json:"baseFiltersUrl"`
	FiltersCacheDir string `json:"filtersCacheDir"`

	// Exclusions is the user-supplied set of wildcard hostname patterns
	// that bypass TLS interception, in addition to the built-in list.
	Exclusions []string `json:"exclusions"`

	// CustomFilters holds raw EasyList-syntax lines passed to the engine
	// after the enabled filter lists' contents.
	CustomFilters []string `json:"customFilters"`

	// InitialFilters seeds the filter set the lifecycle applies at startup.
	// Nothing fetches metadata.json to replace it.
	InitialFilters []FilterSeed `json:"initialFilters"`
}

// FilterSeed is one entry of the bootstrap filter list, mirroring the
// wire shape of metadata.json's array elements.
type FilterSeed struct {
	EnabledByDefault bool   `json:"enabled_by_default"`
	FileName         string `json:"file_name"`
	Group            string `json:"group"`
	Title            string `json:"title"`
}

// Load returns config with defaults overridden by proxy-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "proxy-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		ListenAddress:   "127.0.0.1:8100",
		ManagementPort:  8101,
		LogLevel:        "info",
		CACertFile:      "privaxy-ca-cert.pem",
		CAKeyFile:       "privaxy-ca-key.pem",
		BaseFiltersURL:  "https://filters.privaxy.net",
		FiltersCacheDir: "filters",
		InitialFilters: []FilterSeed{
			{EnabledByDefault: true, FileName: "easylist.txt", Group: "default", Title: "EasyList"},
			{EnabledByDefault: true, FileName: "easyprivacy.txt", Group: "privacy", Title: "EasyPrivacy"},
		},
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[config] loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("CA_CERT_FILE"); v != "" {
		cfg.CACertFile = v
	}
	if v := os.Getenv("CA_KEY_FILE"); v != "" {
		cfg.CAKeyFile = v
	}
	if v := os.Getenv("BASE_FILTERS_URL"); v != "" {
		cfg.BaseFiltersURL = v
	}
	if v := os.Getenv("FILTERS_CACHE_DIR"); v != "" {
		cfg.FiltersCacheDir = v
	}
}
