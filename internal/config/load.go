package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables use the
// AUDIARR_ prefix with underscores for nesting (AUDIARR_SERVER_PORT) and
// take precedence over file values. Returns a populated Config or an error
// when loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.path", "audiarr.db")
	v.SetDefault("tasks.tick_interval", "1s")
	v.SetDefault("tasks.acquisition_limit", 3)
	v.SetDefault("tasks.history_max_age", "720h")
	v.SetDefault("tasks.history_sweep_interval", "1h")
	v.SetDefault("schedule.catalog_sync_interval", "12h")
	v.SetDefault("schedule.credential_refresh_interval", "6h")
	v.SetDefault("schedule.policy_scan_interval", "1h")
	v.SetDefault("schedule.policy_batch_limit", 10)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment carries the
		// required values in that case.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("AUDIARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not surface env-only keys through Unmarshal unless
	// they are bound explicitly.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"database.path",
		"license.endpoint",
		"license.token_secret",
		"catalog.endpoint",
		"engine.endpoint",
		"pipeline.work_dir",
		"pipeline.library_dir",
		"pipeline.ffmpeg_path",
		"pipeline.ffprobe_path",
		"tasks.tick_interval",
		"tasks.acquisition_limit",
		"tasks.history_max_age",
		"tasks.history_sweep_interval",
		"schedule.catalog_sync_interval",
		"schedule.credential_refresh_interval",
		"schedule.policy_scan_interval",
		"schedule.policy_batch_limit",
		"schedule.require_unmetered",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
