package tenant

import (
	"fmt"
	"time"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
)

// Config holds per-tenant coordinator settings
type Config struct {
	MaxConcurrentBackups   int                  `json:"max_concurrent_backups" yaml:"max_concurrent_backups"`
	EnableEmergencyBackups bool                 `json:"enable_emergency_backups" yaml:"enable_emergency_backups"`
	AutoCleanup            bool                 `json:"auto_cleanup" yaml:"auto_cleanup"`
	HealthCheckInterval    time.Duration        `json:"health_check_interval" yaml:"health_check_interval"`
	CleanupInterval        time.Duration        `json:"cleanup_interval" yaml:"cleanup_interval"`
	ScheduleInterval       time.Duration        `json:"schedule_interval" yaml:"schedule_interval"`
	StorageQuotaBytes      int64                `json:"storage_quota_bytes" yaml:"storage_quota_bytes"`
	RecentWindow           time.Duration        `json:"recent_window" yaml:"recent_window"`
	DefaultDestinations    []backup.Destination `json:"default_destinations,omitempty" yaml:"default_destinations,omitempty"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBackups:   3,
		EnableEmergencyBackups: true,
		AutoCleanup:            true,
		HealthCheckInterval:    5 * time.Minute,
		CleanupInterval:        24 * time.Hour,
		ScheduleInterval:       time.Minute,
		RecentWindow:           24 * time.Hour,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentBackups <= 0 {
		c.MaxConcurrentBackups = d.MaxConcurrentBackups
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = d.ScheduleInterval
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	return c
}

// Validate rejects settings that cannot be applied
func (c Config) Validate() error {
	if c.MaxConcurrentBackups < 0 {
		return fmt.Errorf("max_concurrent_backups must not be negative")
	}
	if c.StorageQuotaBytes < 0 {
		return fmt.Errorf("storage_quota_bytes must not be negative")
	}
	for _, d := range c.DefaultDestinations {
		if d.Name == "" {
			return fmt.Errorf("default destination name required")
		}
	}
	return nil
}
