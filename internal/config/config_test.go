package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("valid config loads", func(t *testing.T) {
		path := writeTempConfig(t, `
world: test-world
version: 1
database:
  dsn: "sqlite://:memory:"
backend:
  kind: anthropic
  model: claude-sonnet-4-20250514
gateway:
  call_timeout: 45s
providers:
  - name: audio
    command: audio-tools
    args: [--stdio]
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.World != "test-world" {
			t.Fatalf("expected world name, got %q", cfg.World)
		}
		if cfg.Gateway.CallTimeout.Std() != 45*time.Second {
			t.Fatalf("call_timeout = %v, want 45s", cfg.Gateway.CallTimeout.Std())
		}
		if cfg.Gateway.SweepInterval.Std() != 5*time.Second {
			t.Fatalf("sweep_interval default = %v, want 5s", cfg.Gateway.SweepInterval.Std())
		}
		if cfg.Compose.Budget != 8000 {
			t.Fatalf("budget default = %d, want 8000", cfg.Compose.Budget)
		}
		if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "audio" {
			t.Fatalf("providers = %+v", cfg.Providers)
		}
	})

	t.Run("missing world name", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\ndatabase:\n  dsn: \"sqlite://:memory:\"\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("missing dsn", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("unsupported dsn scheme", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\ndatabase:\n  dsn: mysql://host/db\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("bad backend kind", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\ndatabase:\n  dsn: \"sqlite://:memory:\"\nbackend:\n  kind: cohere\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("provider missing command", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\ndatabase:\n  dsn: \"sqlite://:memory:\"\nproviders:\n  - name: audio\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("provider name with colon", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\ndatabase:\n  dsn: \"sqlite://:memory:\"\nproviders:\n  - name: \"a:b\"\n    command: x\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("duplicate provider names", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\ndatabase:\n  dsn: \"sqlite://:memory:\"\nproviders:\n  - name: audio\n    command: x\n  - name: Audio\n    command: y\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeTempConfig(t, "world: test\nversion: 1\ndatabase:\n  dsn: \"sqlite://:memory:\"\ngateway:\n  call_timeout: soon\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeTempConfig(t, "world: [\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "atrium.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}
