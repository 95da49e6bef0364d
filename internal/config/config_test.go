package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.ListenAddress != "127.0.0.1:8100" {
		t.Errorf("ListenAddress: got %s, want 127.0.0.1:8100", cfg.ListenAddress)
	}
	if cfg.ManagementPort != 8101 {
		t.Errorf("ManagementPort: got %d, want 8101", cfg.ManagementPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.CACertFile != "privaxy-ca-cert.pem" {
		t.Errorf("CACertFile: got %s", cfg.CACertFile)
	}
	if cfg.CAKeyFile != "privaxy-ca-key.pem" {
		t.Errorf("CAKeyFile: got %s", cfg.CAKeyFile)
	}
	if cfg.BaseFiltersURL != "https://filters.privaxy.net" {
		t.Errorf("BaseFiltersURL: got %s", cfg.BaseFiltersURL)
	}
	if len(cfg.InitialFilters) == 0 {
		t.Error("InitialFilters should not be empty")
	}
}

func TestLoadEnv_ListenAddress(t *testing.T) {
	t.Setenv("LISTEN_ADDRESS", "0.0.0.0:9000")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("ListenAddress: got %s", cfg.ListenAddress)
	}
}

func TestLoadEnv_ManagementPort(t *testing.T) {
	t.Setenv("MANAGEMENT_PORT", "9091")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ManagementPort != 9091 {
		t.Errorf("ManagementPort: got %d, want 9091", cfg.ManagementPort)
	}
}

func TestLoadEnv_LogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadEnv_CACertFile(t *testing.T) {
	t.Setenv("CA_CERT_FILE", "/etc/ssl/my-ca.crt")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.CACertFile != "/etc/ssl/my-ca.crt" {
		t.Errorf("CACertFile: got %s", cfg.CACertFile)
	}
}

func TestLoadEnv_CAKeyFile(t *testing.T) {
	t.Setenv("CA_KEY_FILE", "/etc/ssl/my-ca.key")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.CAKeyFile != "/etc/ssl/my-ca.key" {
		t.Errorf("CAKeyFile: got %s", cfg.CAKeyFile)
	}
}

func TestLoadEnv_BaseFiltersURL(t *testing.T) {
	t.Setenv("BASE_FILTERS_URL", "https://example.test/filters")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.BaseFiltersURL != "https://example.test/filters" {
		t.Errorf("BaseFiltersURL: got %s", cfg.BaseFiltersURL)
	}
}

func TestLoadEnv_ManagementToken(t *testing.T) {
	t.Setenv("MANAGEMENT_TOKEN", "secret-token")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ManagementToken != "secret-token" {
		t.Errorf("ManagementToken: got %s", cfg.ManagementToken)
	}
}

func TestLoadEnv_InvalidPort_Ignored(t *testing.T) {
	t.Setenv("MANAGEMENT_PORT", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ManagementPort != 8101 {
		t.Errorf("ManagementPort: got %d, want 8101 (invalid env should be ignored)", cfg.ManagementPort)
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"managementPort": 9999,
		"logLevel":       "warn",
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.ManagementPort != 9999 {
		t.Errorf("ManagementPort: got %d, want 9999", cfg.ManagementPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.ManagementPort != 8101 {
		t.Errorf("ManagementPort changed unexpectedly: %d", cfg.ManagementPort)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.ManagementPort != 8101 {
		t.Errorf("ManagementPort changed on bad JSON: %d", cfg.ManagementPort)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.ManagementPort <= 0 {
		t.Errorf("ManagementPort should be positive, got %d", cfg.ManagementPort)
	}
}
