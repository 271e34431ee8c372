package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Store     StoreConfig            `yaml:"store"`
	Tenants   tenant.Config          `yaml:"tenants"`
	DR        DRConfig               `yaml:"dr"`
	Drivers   DriversConfig          `yaml:"drivers"`
	RateLimit RateLimitConfig        `yaml:"rate_limit"`
	Alerting  alerting.ManagerConfig `yaml:"alerting"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"` // json or console
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver   string                `yaml:"driver"`
	Postgres database.Config       `yaml:"postgres"`
	Badger   database.BadgerConfig `yaml:"badger"`
}

type DRConfig struct {
	Sites             []ha.Site     `yaml:"sites"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	ActivationHistory int           `yaml:"activation_history"`
	TestStaleAfter    time.Duration `yaml:"test_stale_after"`
}

type DriversConfig struct {
	StagingDir string `yaml:"staging_dir"` // temp space for archives before upload
	// EncryptionKey is a hex master key of at least 32 bytes. Jobs that ask
	// for encryption fail while it is unset.
	EncryptionKey string `yaml:"encryption_key"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a configuration that runs a single-site node on an
// in-memory store
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			LogFormat:       "json",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Postgres: database.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "recovery",
				User:     "recovery",
				SSLMode:  "disable",
			},
			Badger: database.BadgerConfig{Path: "data/state", SyncWrites: true},
		},
		Tenants: tenant.DefaultConfig(),
		DR: DRConfig{
			Sites:             []ha.Site{{Name: "primary", Tier: ha.TierPrimary}},
			MonitorInterval:   ha.DefaultMonitorInterval,
			ActivationHistory: ha.DefaultActivationHistory,
			TestStaleAfter:    ha.DefaultTestStaleAfter,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Alerting: alerting.ManagerConfig{MaxAlerts: 1000},
	}
}

// Load overlays a YAML file on the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Server.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("server.log_format must be json or console"))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			errs = append(errs, errors.New("store.postgres requires host and database"))
		}
	case StoreBadger:
		if c.Store.Badger.Path == "" && !c.Store.Badger.InMemory {
			errs = append(errs, errors.New("store.badger.path required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q unknown", c.Store.Driver))
	}
	if err := c.Tenants.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tenants: %w", err))
	}
	if _, err := ha.NewSiteManager(c.DR.Sites, nil); err != nil {
		errs = append(errs, fmt.Errorf("dr.sites: %w", err))
	}
	if c.DR.ActivationHistory < 0 {
		errs = append(errs, errors.New("dr.activation_history must not be negative"))
	}
	if c.Drivers.EncryptionKey != "" {
		if raw, err := hex.DecodeString(c.Drivers.EncryptionKey); err != nil || len(raw) < 32 {
			errs = append(errs, errors.New("drivers.encryption_key must be at least 32 hex-encoded bytes"))
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit requires positive requests_per_second and burst"))
	}
	return errors.Join(errs...)
}
