package config

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/agentctl/agentctl/internal/model"
)

func loadConfigFromFlags(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return Load(fs)
}

func TestLoadEnv_OverridesEngineRoots(t *testing.T) {
	custom := t.TempDir()
	t.Setenv("CCBOX_SESSIONS_DIR", custom)

	cfg, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.loadEnv()

	if cfg.SessionsDir != custom {
		t.Errorf("SessionsDir = %q, want %q", cfg.SessionsDir, custom)
	}
}

func TestLoadEnv_OverridesStateDir(t *testing.T) {
	custom := t.TempDir()
	t.Setenv("CCBOX_STATE_DIR", custom)

	cfg, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.loadEnv()

	if cfg.StateDir != custom {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, custom)
	}
}

func TestLoad_AppliesExplicitFlags(t *testing.T) {
	cfg, err := loadConfigFromFlags(t, "--host", "0.0.0.0", "--port", "9090")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9090)
	}
}

func TestLoad_FlagOverridesEngineRoot(t *testing.T) {
	custom := t.TempDir()
	cfg, err := loadConfigFromFlags(t, "--sessions-dir", custom)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SessionsDir != custom {
		t.Errorf("SessionsDir = %q, want %q", cfg.SessionsDir, custom)
	}
}

func TestLoad_DefaultsWithoutFlags(t *testing.T) {
	cfg, err := loadConfigFromFlags(t)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default %q", cfg.Host, "127.0.0.1")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default %d", cfg.Port, 8080)
	}
}

func TestLoad_NilFlagSet(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1")
	}
}

func TestEngineRoots_OnlyIncludesConfiguredDirs(t *testing.T) {
	cfg := Config{SessionsDir: "/a", ClaudeProjectsDir: "/b"}
	roots := cfg.EngineRoots()
	if len(roots) != 2 {
		t.Fatalf("EngineRoots() len = %d, want 2", len(roots))
	}
	if roots[model.EngineA] != "/a" || roots[model.EngineB] != "/b" {
		t.Errorf("EngineRoots() = %+v", roots)
	}
	if _, ok := roots[model.EngineC]; ok {
		t.Error("EngineC should not be present when GeminiDir is unset")
	}
}

func TestResolveStateDir_DefaultAndEnvOverride(t *testing.T) {
	dir, err := ResolveStateDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir == "" {
		t.Error("ResolveStateDir returned empty string")
	}

	custom := t.TempDir()
	t.Setenv("CCBOX_STATE_DIR", custom)
	dir, err = ResolveStateDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != custom {
		t.Errorf("ResolveStateDir = %q, want %q", dir, custom)
	}
}
