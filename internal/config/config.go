// Package config loads the two configuration layers the connector
// framework runs on: an application-level file covering the process
// itself (listening address, log level, which venues to start, whether
// the dashboard is enabled) and, separately, each venue's own
// per-connector JSON blob (the spec's config(json) operation). The
// application file is decoded through github.com/spf13/viper using the
// SetEnvPrefix/AutomaticEnv/mapstructure idiom the reference codebase's
// original config package established. LoadConnectorConfig decodes a
// per-connector file through viper into a mapstructure-tagged struct;
// the okex venue instead reads its own file with encoding/json
// (okex.ParseConfig).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig is the top-level application configuration: everything the
// composition root needs before any venue factory is constructed.
type AppConfig struct {
	Logging   LoggingConfig    `mapstructure:"logging"`
	Dashboard DashboardConfig  `mapstructure:"dashboard"`
	Venues    []VenueConfig    `mapstructure:"venues"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// DashboardConfig controls the read-only operator dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ListenAddress  string   `mapstructure:"listen_address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// VenueConfig names one venue to start and where its own per-connector
// JSON configuration file lives. The file itself is decoded separately
// by the venue package's own Register function into whatever structure
// that package defines (okex.Register reads it into okex.Config with
// okex.ParseConfig).
type VenueConfig struct {
	Name       string `mapstructure:"name"`
	ConfigFile string `mapstructure:"config_file"`
}

// Load reads the application-level configuration file at path. A field
// that appears in the file or has a default below can be overridden via
// a TRADECONNECT_<SECTION>_<FIELD> environment variable, matching the
// reference config package's env-override convention; a field that is
// in neither is not read from the environment.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADECONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.listen_address", ":8090")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_address", ":9090")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read app config: %w", err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal app config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the application config is complete enough to start.
func (c *AppConfig) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venues: entry missing name")
		}
		if v.ConfigFile == "" {
			return fmt.Errorf("venues.%s: config_file is required", v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("venues: %q configured more than once", v.Name)
		}
		seen[v.Name] = true
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadConnectorConfig reads a venue's per-connector JSON configuration
// file and unmarshals it into out (a pointer to the venue package's own
// config struct), using a dedicated JSON-mode viper instance so the
// blob gets the same env-override and mapstructure decoding as the
// application config, per spec §6's config(json) operation.
func LoadConnectorConfig(path string, out any) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read connector config %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal connector config %s: %w", path, err)
	}
	return nil
}

// shutdownGrace is a five-second grace period for connectors to unwind
// after a cancellation signal.
const shutdownGrace = 5 * time.Second

// ShutdownGrace returns shutdownGrace. cmd/connectord does not call it
// and does not wait out this period on SIGINT / SIGTERM.
func ShutdownGrace() time.Duration { return shutdownGrace }
