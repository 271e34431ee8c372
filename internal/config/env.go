package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv overlays RECOVERY_* environment variables. Malformed numbers
// are ignored.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("RECOVERY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("RECOVERY_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat := os.Getenv("RECOVERY_LOG_FORMAT"); logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}

	// Store settings
	cfg.Store.Driver = GetEnvOrDefault("RECOVERY_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Postgres.Host = GetEnvOrDefault("RECOVERY_DB_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Database = GetEnvOrDefault("RECOVERY_DB_NAME", cfg.Store.Postgres.Database)
	cfg.Store.Postgres.User = GetEnvOrDefault("RECOVERY_DB_USER", cfg.Store.Postgres.User)
	cfg.Store.Postgres.Password = GetEnvOrDefault("RECOVERY_DB_PASSWORD", cfg.Store.Postgres.Password)
	cfg.Store.Postgres.SSLMode = GetEnvOrDefault("RECOVERY_DB_SSLMODE", cfg.Store.Postgres.SSLMode)
	if port := os.Getenv("RECOVERY_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Store.Postgres.Port = p
		}
	}
	cfg.Store.Badger.Path = GetEnvOrDefault("RECOVERY_BADGER_PATH", cfg.Store.Badger.Path)

	cfg.Drivers.StagingDir = GetEnvOrDefault("RECOVERY_STAGING_DIR", cfg.Drivers.StagingDir)
	cfg.Drivers.EncryptionKey = GetEnvOrDefault("RECOVERY_ENCRYPTION_KEY", cfg.Drivers.EncryptionKey)

	if n := os.Getenv("RECOVERY_MAX_CONCURRENT_BACKUPS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Tenants.MaxConcurrentBackups = v
		}
	}
	if quota := os.Getenv("RECOVERY_STORAGE_QUOTA_BYTES"); quota != "" {
		if v, err := strconv.ParseInt(quota, 10, 64); err == nil {
			cfg.Tenants.StorageQuotaBytes = v
		}
	}
	if interval := os.Getenv("RECOVERY_DR_MONITOR_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.DR.MonitorInterval = d
		}
	}

	if rps := os.Getenv("RECOVERY_RATE_LIMIT_RPS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimit.RequestsPerSecond = v
		}
	}
	if enabled := os.Getenv("RECOVERY_RATE_LIMIT_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			cfg.RateLimit.Enabled = v
		}
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
