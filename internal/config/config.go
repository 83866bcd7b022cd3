// Package config loads Sidekick configuration via Viper and builds the
// Zap logger from it.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Discovery holds the discovery/probe settings.
type Discovery struct {
	ServiceType  string        `mapstructure:"service_type"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ProbeRetries int           `mapstructure:"probe_retries"`
	MaxDeviceAge time.Duration `mapstructure:"max_device_age"`
	Endpoints    []string      `mapstructure:"endpoints"`
}

// Sync holds the sync pipeline settings.
type Sync struct {
	RecordingsDir     string        `mapstructure:"recordings_dir"`
	ModemKeepAlive    time.Duration `mapstructure:"modem_keep_alive"`
	ModemOnMinutes    int           `mapstructure:"modem_on_minutes"`
	UploadInterval    time.Duration `mapstructure:"upload_interval"`
	LocationThreshold float64       `mapstructure:"location_threshold_m"`
}

// Cloud holds the cloud API settings. Email and password are optional;
// without them the engine runs download-only until a session is handed
// to it some other way.
type Cloud struct {
	ProdURL  string        `mapstructure:"prod_url"`
	TestURL  string        `mapstructure:"test_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Email    string        `mapstructure:"email"`
	Password string        `mapstructure:"password"`
	UseTest  bool          `mapstructure:"use_test"`
}

// Location holds the operator position used where no platform
// positioning exists.
type Location struct {
	Latitude   float64 `mapstructure:"latitude"`
	Longitude  float64 `mapstructure:"longitude"`
	AccuracyM  float64 `mapstructure:"accuracy_m"`
	AutoUpdate bool    `mapstructure:"auto_update"`
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error; defaults apply.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/sidekick.db")

	v.SetDefault("cloud.prod_url", "https://api.cacophony.org.nz/api/v1")
	v.SetDefault("cloud.test_url", "https://api-test.cacophony.org.nz/api/v1")
	v.SetDefault("cloud.timeout", "120s")
	v.SetDefault("cloud.email", "")
	v.SetDefault("cloud.password", "")
	v.SetDefault("cloud.use_test", false)

	v.SetDefault("discovery.service_type", "_cacophonator-management._tcp")
	v.SetDefault("discovery.probe_timeout", "5s")
	v.SetDefault("discovery.probe_retries", 3)
	v.SetDefault("discovery.max_device_age", "10m")
	v.SetDefault("discovery.endpoints", []string{})

	v.SetDefault("sync.recordings_dir", "./data/recordings")
	v.SetDefault("sync.modem_keep_alive", "5m")
	v.SetDefault("sync.modem_on_minutes", 5)
	v.SetDefault("sync.upload_interval", "1m")
	v.SetDefault("sync.location_threshold_m", 200.0)

	v.SetDefault("location.latitude", 0.0)
	v.SetDefault("location.longitude", 0.0)
	v.SetDefault("location.accuracy_m", 30.0)
	v.SetDefault("location.auto_update", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sidekick")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sidekick")
	}

	// Environment variable support: SK_LOGGING_LEVEL=debug
	v.SetEnvPrefix("SK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// DiscoverySection unmarshals the discovery settings.
func DiscoverySection(v *viper.Viper) (Discovery, error) {
	var d Discovery
	if err := v.UnmarshalKey("discovery", &d); err != nil {
		return Discovery{}, fmt.Errorf("discovery config: %w", err)
	}
	return d, nil
}

// SyncSection unmarshals the sync settings.
func SyncSection(v *viper.Viper) (Sync, error) {
	var s Sync
	if err := v.UnmarshalKey("sync", &s); err != nil {
		return Sync{}, fmt.Errorf("sync config: %w", err)
	}
	return s, nil
}

// CloudSection unmarshals the cloud API settings.
func CloudSection(v *viper.Viper) (Cloud, error) {
	var c Cloud
	if err := v.UnmarshalKey("cloud", &c); err != nil {
		return Cloud{}, fmt.Errorf("cloud config: %w", err)
	}
	return c, nil
}

// LocationSection unmarshals the operator position settings.
func LocationSection(v *viper.Viper) (Location, error) {
	var l Location
	if err := v.UnmarshalKey("location", &l); err != nil {
		return Location{}, fmt.Errorf("location config: %w", err)
	}
	return l, nil
}
