package config

import (
	"fmt"
	"strings"
)

// LoggingConfig sets the application log level and destination.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level"`
	// File writes logs to a rotated file instead of stdout.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.File != "" && c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
}

// Validate checks the level.
func (c LoggingConfig) Validate() error {
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 {
		return fmt.Errorf("log rotation limits must be positive")
	}
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown level %s", c.Level)
	}
}
