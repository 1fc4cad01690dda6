package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "app.yaml", `
venues:
  - name: okex
    config_file: okex.json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
	if !cfg.Dashboard.Enabled {
		t.Fatal("expected dashboard enabled by default")
	}
	if len(cfg.Venues) != 1 || cfg.Venues[0].Name != "okex" {
		t.Fatalf("unexpected venues: %+v", cfg.Venues)
	}
}

func TestValidateRejectsEmptyVenues(t *testing.T) {
	cfg := &AppConfig{Logging: LoggingConfig{Level: "info"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty venue list")
	}
}

func TestValidateRejectsDuplicateVenueNames(t *testing.T) {
	cfg := &AppConfig{
		Logging: LoggingConfig{Level: "info"},
		Venues: []VenueConfig{
			{Name: "okex", ConfigFile: "a.json"},
			{Name: "okex", ConfigFile: "b.json"},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate venue name")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := &AppConfig{
		Logging: LoggingConfig{Level: "verbose"},
		Venues:  []VenueConfig{{Name: "okex", ConfigFile: "a.json"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoadConnectorConfigUnmarshalsJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "okex.json", `{"ws_url": "wss://example.invalid/ws", "rest_url": "https://example.invalid"}`)

	var out struct {
		WSURL   string `mapstructure:"ws_url"`
		RESTURL string `mapstructure:"rest_url"`
	}
	if err := LoadConnectorConfig(path, &out); err != nil {
		t.Fatalf("LoadConnectorConfig: %v", err)
	}
	if out.WSURL != "wss://example.invalid/ws" || out.RESTURL != "https://example.invalid" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}
