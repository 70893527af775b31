package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/consult/pkg/consult/internalerr"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consult.yaml")
	content := `server:
  addr: "0.0.0.0:9090"
  h2c: true
store:
  driver: sqlite
  path: /tmp/consult.db
redis:
  addr: "localhost:6379"
  ttl: 2h
engine:
  priority_threshold: 70
session:
  idle_timeout: 5m
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" || !cfg.Server.H2C {
		t.Errorf("server not loaded: %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("unset fields should keep defaults, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/tmp/consult.db" {
		t.Errorf("store not loaded: %+v", cfg.Store)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.TTL != 2*time.Hour || cfg.Redis.Prefix != "consult:session:" {
		t.Errorf("redis not loaded: %+v", cfg.Redis)
	}
	if cfg.Engine.PriorityThreshold != 70 {
		t.Errorf("threshold: got %d", cfg.Engine.PriorityThreshold)
	}
	if cfg.Session.IdleTimeout != 5*time.Minute {
		t.Errorf("idle timeout: got %v", cfg.Session.IdleTimeout)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown driver": "store:\n  driver: postgres\n",
		"sqlite no path": "store:\n  driver: sqlite\n",
		"bad threshold":  "engine:\n  priority_threshold: 150\n",
		"bad level":      "log:\n  level: loud\n",
		"bad addr":       "server:\n  addr: nowhere\n",
		"malformed yaml": "server: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			if !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLogBuild(t *testing.T) {
	for _, l := range []Log{{Level: "debug", Development: true}, {Level: "warn"}} {
		logger, err := l.Build()
		if err != nil {
			t.Fatalf("Build(%+v): %v", l, err)
		}
		_ = logger.Sync()
	}
	if _, err := (Log{Level: "nope"}).Build(); err == nil {
		t.Error("expected error for unknown level")
	}
}
