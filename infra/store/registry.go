package store

import (
	"github.com/kilianp07/stationctl/core/factory"
	corestore "github.com/kilianp07/stationctl/core/store"
)

var registry = factory.NewRegistry[corestore.StateStore]()

// Register adds a state store factory identified by name.
func Register(name string, f factory.Factory[corestore.StateStore]) error {
	return registry.Register(name, f)
}

// New creates the state store described by cfg. An empty type selects the
// in-memory store.
func New(cfg factory.ModuleConfig) (corestore.StateStore, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return registry.Create(cfg)
}

// Backends lists the registered backend names.
func Backends() []string { return registry.Names() }

func init() {
	_ = Register("memory", func(map[string]any) (corestore.StateStore, error) {
		return corestore.NewMemoryStore(), nil
	})
	_ = Register("json", func(conf map[string]any) (corestore.StateStore, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewFileStore(c.Path)
	})
	_ = Register("sqlite", func(conf map[string]any) (corestore.StateStore, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSQLiteStore(c.Path)
	})
	_ = Register("postgres", func(conf map[string]any) (corestore.StateStore, error) {
		var c struct {
			DSN string `json:"dsn"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewPostgresStore(c.DSN)
	})
	_ = Register("redis", func(conf map[string]any) (corestore.StateStore, error) {
		var c RedisConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewRedisStore(c)
	})
}
