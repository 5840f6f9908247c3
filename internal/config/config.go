// Package config holds the process configuration read from the
// environment.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/raphi011/proberun/internal/device"
	"github.com/raphi011/proberun/internal/model"
)

const envPrefix = "PROBERUN_"

// Config is parsed from PROBERUN_ prefixed environment variables. CLI flags
// override individual fields afterwards.
type Config struct {
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
	// DBFile is relative to DataDir, an empty value keeps the database in
	// memory.
	DBFile string `env:"DB_FILE" envDefault:"proberun.db"`
	Port   int    `env:"PORT" envDefault:"1337"`

	EnginePath string   `env:"ENGINE_PATH" envDefault:"miniooni"`
	EngineArgs []string `env:"ENGINE_ARGS" envSeparator:" "`

	AutoRunSchedule string `env:"AUTORUN_SCHEDULE" envDefault:"@every 1h"`
	Instance        string `env:"INSTANCE"`

	ElasticSearchAddresses []string `env:"ELASTICSEARCH_ADDRESSES" envSeparator:","`
	ElasticSearchIndex     string   `env:"ELASTICSEARCH_INDEX" envDefault:"proberun-measurements"`

	SlackToken   string `env:"SLACK_TOKEN"`
	SlackChannel string `env:"SLACK_CHANNEL"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	SoftwareName    string `env:"SOFTWARE_NAME" envDefault:"proberun"`
	SoftwareVersion string `env:"SOFTWARE_VERSION" envDefault:"dev"`

	// NetworkType and Battery replace the detected device state when set.
	NetworkType model.NetworkType   `env:"NETWORK_TYPE"`
	Battery     device.BatteryState `env:"BATTERY"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (Config, error) {
	return load(env.Options{Prefix: envPrefix})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return load(env.Options{Prefix: envPrefix, Environment: vars})
}

// DBPath is the sqlite file path, empty for an in-memory database.
func (c Config) DBPath() string {
	if c.DBFile == "" {
		return ""
	}

	if filepath.IsAbs(c.DBFile) {
		return c.DBFile
	}

	return filepath.Join(c.DataDir, c.DBFile)
}

// EngineDir is the directory the engine keeps its state, tunnel and
// temporary files in.
func (c Config) EngineDir() string {
	return filepath.Join(c.DataDir, "engine")
}

// NetworkTypeFinder returns the static override when configured and the
// detecting finder otherwise.
func (c Config) NetworkTypeFinder() device.NetworkTypeFinder {
	if c.NetworkType != "" {
		return device.StaticNetworkType(c.NetworkType)
	}

	return device.NewNetworkTypeFinder()
}

func (c Config) BatteryStateFinder() device.BatteryStateFinder {
	if c.Battery != "" {
		return device.StaticBatteryState(c.Battery)
	}

	return device.NewBatteryStateFinder("")
}
