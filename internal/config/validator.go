package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for settings that would leave the relay unable
// to serve: no credential backend, or timeouts that cannot be honored.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Database.URL == "" && cfg.Database.CredentialsFile == "" {
		errs = append(errs, "one of database.url or database.credentials_file is required")
	}
	if cfg.TikTok.BaseURL == "" {
		errs = append(errs, "tiktok.base_url must not be empty")
	}
	if cfg.TikTok.TimeoutMs < 0 {
		errs = append(errs, fmt.Sprintf("tiktok.timeout_ms must be >= 0, got %d", cfg.TikTok.TimeoutMs))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
