package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/factory"
	"github.com/kilianp07/stationctl/core/metrics"
	"github.com/kilianp07/stationctl/infra/mqtt"
	"github.com/kilianp07/stationctl/infra/tracing"
)

// EnvPrefix marks environment overrides; "__" separates nested keys, e.g.
// K_WAITING__TOP_K=2.
const EnvPrefix = "K_"

type Config struct {
	Station StationConfig        `json:"station"`
	Store   factory.ModuleConfig `json:"store"`
	Waiting WaitingConfig        `json:"waiting"`
	HTTP    HTTPConfig           `json:"http"`
	Audit   audit.Config         `json:"audit"`
	Metrics metrics.Config       `json:"metrics"`
	// MQTT publishing is enabled when a broker is set.
	MQTT    mqtt.Config    `json:"mqtt"`
	Logging LoggingConfig  `json:"logging"`
	Sentry  SentryConfig   `json:"sentry"`
	Tracing tracing.Config `json:"tracing"`
}

// Load reads a .env file when present, then the YAML or JSON file at path,
// then K_ environment overrides. An empty path loads defaults and env only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Station.SetDefaults()
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	c.Waiting.SetDefaults()
	c.HTTP.SetDefaults()
	c.Audit.SetDefaults()
	if c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
	}
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
	c.Tracing.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"station", c.Station.Validate},
		{"waiting", c.Waiting.Validate},
		{"http", c.HTTP.Validate},
		{"audit", c.Audit.Validate},
		{"logging", c.Logging.Validate},
		{"sentry", c.Sentry.Validate},
		{"tracing", c.Tracing.Validate},
	}
	if c.MQTT.Broker != "" {
		checks = append(checks, struct {
			name string
			fn   func() error
		}{"mqtt", c.MQTT.Validate})
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("config %s: %w", chk.name, err)
		}
	}
	return nil
}
