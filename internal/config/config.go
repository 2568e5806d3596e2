package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	License  LicenseConfig  `mapstructure:"license" validate:"required"`
	Catalog  CatalogConfig  `mapstructure:"catalog" validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the embedded database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LicenseConfig contains license service settings.
type LicenseConfig struct {
	Endpoint    string `mapstructure:"endpoint" validate:"required,url"`
	TokenSecret string `mapstructure:"token_secret" validate:"required,min=32"`
}

// CatalogConfig contains upstream catalog settings.
type CatalogConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
}

// EngineConfig contains download engine daemon settings.
type EngineConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
}

// PipelineConfig contains the acquisition pipeline's filesystem and tool
// settings.
type PipelineConfig struct {
	WorkDir     string `mapstructure:"work_dir" validate:"required"`
	LibraryDir  string `mapstructure:"library_dir" validate:"required"`
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

// TasksConfig contains coordinator tuning settings. Zero values fall back to
// the coordinator defaults.
type TasksConfig struct {
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	AcquisitionLimit     int           `mapstructure:"acquisition_limit" validate:"gte=0,lte=16"`
	HistoryMaxAge        time.Duration `mapstructure:"history_max_age"`
	HistorySweepInterval time.Duration `mapstructure:"history_sweep_interval"`
}

// ScheduleConfig contains the recurring job cadences. A zero interval
// disables that job.
type ScheduleConfig struct {
	CatalogSyncInterval       time.Duration `mapstructure:"catalog_sync_interval"`
	CredentialRefreshInterval time.Duration `mapstructure:"credential_refresh_interval"`
	PolicyScanInterval        time.Duration `mapstructure:"policy_scan_interval"`
	PolicyBatchLimit          int           `mapstructure:"policy_batch_limit" validate:"gte=0"`
	RequireUnmetered          bool          `mapstructure:"require_unmetered"`
}
