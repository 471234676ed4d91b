package audit

import "fmt"

// Config selects and tunes the audit store.
type Config struct {
	// Backend selects the store type: "jsonl", "sqlite" or "none".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "operations.jsonl"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("audit: path is required")
		}
	case "none":
	default:
		return fmt.Errorf("audit: unknown backend %s", c.Backend)
	}
	return nil
}

// New builds the configured store.
func New(c Config) (Store, error) {
	switch c.Backend {
	case "jsonl":
		return NewJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(c.Path)
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("audit: unknown backend %s", c.Backend)
	}
}
