package factory

import (
	"strings"
	"testing"
	"time"
)

type fileBackend struct {
	path  string
	flush time.Duration
}

type fileConf struct {
	Path  string        `json:"path"`
	Flush time.Duration `json:"flush"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*fileBackend]()
	if err := reg.Register("json", func(conf map[string]any) (*fileBackend, error) {
		var c fileConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &fileBackend{path: c.Path, flush: c.Flush}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := reg.Create(ModuleConfig{Type: "json", Conf: map[string]any{"path": "state.json", "flush": "500ms"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.path != "state.json" || b.flush != 500*time.Millisecond {
		t.Fatalf("unexpected backend %+v", b)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("sqlite", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("SQLite", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("postgres", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	_, err := reg.Create(ModuleConfig{Type: "mongo"})
	if err == nil || !strings.Contains(err.Error(), "known: sqlite") {
		t.Fatalf("expected unknown type error listing names, got %v", err)
	}
}

func TestRegistry_NamesAndCase(t *testing.T) {
	reg := NewRegistry[int]()
	for _, n := range []string{"Redis", "memory"} {
		if err := reg.Register(n, func(map[string]any) (int, error) { return 7, nil }); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "memory" || got[1] != "redis" {
		t.Fatalf("names = %v", got)
	}
	if v, err := reg.Create(ModuleConfig{Type: "REDIS"}); err != nil || v != 7 {
		t.Fatalf("create = %d, %v", v, err)
	}
}

func TestDecode_WeakTypes(t *testing.T) {
	var c struct {
		DB      int           `json:"db"`
		TLS     bool          `json:"tls"`
		Timeout time.Duration `json:"timeout"`
	}
	if err := Decode(map[string]any{"db": "2", "tls": "true", "timeout": "3s"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.DB != 2 || !c.TLS || c.Timeout != 3*time.Second {
		t.Fatalf("unexpected %+v", c)
	}
}
