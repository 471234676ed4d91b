package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/stationctl/core/layout"
	"github.com/kilianp07/stationctl/infra/auth"
)

// StationConfig locates the static station data.
type StationConfig struct {
	// Layout overrides the built-in Kharagpur layout when set.
	Layout *layout.Layout `json:"layout"`
	// MatrixPath is the blockage matrix file (.csv, .yaml or .json).
	MatrixPath string `json:"matrix_path"`
	// LineAgnostic lists incoming lines that ignore blockage data.
	LineAgnostic []string `json:"line_agnostic"`
	// TrainsPath is the master schedule file (.yaml or .json). Empty keeps
	// the master in memory.
	TrainsPath string `json:"trains_path"`
	// TrainsURL fetches the master over HTTP instead of TrainsPath.
	TrainsURL string `json:"trains_url"`
	// MasterAuth authenticates TrainsURL requests.
	MasterAuth auth.Conf `json:"master_auth"`
	// MasterRefreshSeconds reloads the master and syncs the roster
	// periodically; zero disables it.
	MasterRefreshSeconds int `json:"master_refresh_seconds"`
	// RearmOnStart re-arms departure alerts for occupied resources after a restart.
	RearmOnStart bool `json:"rearm_on_start"`
}

// SetDefaults applies the built-in layout.
func (c *StationConfig) SetDefaults() {
	if c.Layout == nil {
		l := layout.Default()
		c.Layout = &l
	}
}

// Validate checks the layout and the master source.
func (c StationConfig) Validate() error {
	if c.TrainsPath != "" && c.TrainsURL != "" {
		return fmt.Errorf("trains_path and trains_url are mutually exclusive")
	}
	if c.MasterRefreshSeconds < 0 {
		return fmt.Errorf("master_refresh_seconds must be positive")
	}
	if err := c.MasterAuth.Validate(); err != nil {
		return err
	}
	if c.Layout == nil {
		return nil
	}
	return c.Layout.Validate()
}

// MasterRefresh returns the reload period.
func (c StationConfig) MasterRefresh() time.Duration {
	return time.Duration(c.MasterRefreshSeconds) * time.Second
}

// WaitingConfig tunes the waiting-queue suggestions.
type WaitingConfig struct {
	// TopK is how many queue heads are considered per vacancy.
	TopK int `json:"top_k"`
	// SuggestionTTLSeconds is how long a suggestion holds its resources.
	SuggestionTTLSeconds int `json:"suggestion_ttl_seconds"`
}

// SetDefaults applies one head and a two minute TTL.
func (c *WaitingConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 1
	}
	if c.SuggestionTTLSeconds == 0 {
		c.SuggestionTTLSeconds = 120
	}
}

// Validate rejects negative values.
func (c WaitingConfig) Validate() error {
	if c.TopK < 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.SuggestionTTLSeconds < 0 {
		return fmt.Errorf("suggestion_ttl_seconds must be positive")
	}
	return nil
}

// SuggestionTTL returns the TTL as a duration.
func (c WaitingConfig) SuggestionTTL() time.Duration {
	return time.Duration(c.SuggestionTTLSeconds) * time.Second
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	AllowedOrigins []string `json:"allowed_origins"`
	// ShutdownSeconds bounds graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds"`
	// Token requires "Authorization: Bearer <token>" on mutating routes.
	Token string `json:"token"`
}

// SetDefaults applies the default listen address.
func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.ShutdownSeconds == 0 {
		c.ShutdownSeconds = 10
	}
}

// Validate checks the address.
func (c HTTPConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	return nil
}
