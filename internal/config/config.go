package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/supervisor"
)

const configFileName = "config.json"

// Config holds the resolved configuration for one agentctl process:
// where each engine's on-disk sessions live, where agentctl keeps its
// own state, and the address the remote control plane listens on.
type Config struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	StateDir string `json:"-"`
	DBPath   string `json:"-"` // tasks.db, derived from StateDir

	// SessionsDir, ClaudeProjectsDir and GeminiDir are the scan roots
	// for engines A, B and C (spec §6.5). OpenCodeDBPath is engine D's
	// sqlite store rather than a directory of log files.
	SessionsDir       string `json:"sessions_dir,omitempty"`
	ClaudeProjectsDir string `json:"claude_projects_dir,omitempty"`
	GeminiDir         string `json:"gemini_dir,omitempty"`
	OpenCodeDBPath    string `json:"opencode_db_path,omitempty"`

	// dirSource tracks which layer set each directory field, keyed by
	// its json tag, so loadFile doesn't clobber a value env already set.
	dirSource map[string]dirSource
}

type dirSource int

const (
	dirDefault dirSource = iota
	dirEnv
)

// EngineRoots projects the three directory-scanned engines into the
// shape the supervisor and scanner packages expect.
func (c Config) EngineRoots() supervisor.EngineRoots {
	roots := supervisor.EngineRoots{}
	if c.SessionsDir != "" {
		roots[model.EngineA] = c.SessionsDir
	}
	if c.ClaudeProjectsDir != "" {
		roots[model.EngineB] = c.ClaudeProjectsDir
	}
	if c.GeminiDir != "" {
		roots[model.EngineC] = c.GeminiDir
	}
	return roots
}

// Default returns a Config with OS-appropriate home-directory defaults
// for the state dir and every engine's root (spec §6.5).
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("determining home directory: %w", err)
	}
	stateDir := filepath.Join(home, ".agentctl")

	return Config{
		Host:              "127.0.0.1",
		Port:              8080,
		StateDir:          stateDir,
		DBPath:            filepath.Join(stateDir, "tasks.db"),
		SessionsDir:       filepath.Join(home, ".codex", "sessions"),
		ClaudeProjectsDir: filepath.Join(home, ".claude", "projects"),
		GeminiDir:         filepath.Join(home, ".gemini"),
		OpenCodeDBPath:    filepath.Join(home, ".local", "share", "opencode", "opencode.db"),
		dirSource:         make(map[string]dirSource),
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file and env,
// without parsing CLI flags. Use this for subcommands that manage
// their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	cfg.loadEnv()

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.DBPath = filepath.Join(cfg.StateDir, "tasks.db")
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.StateDir, configFileName)
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	c.applyFileDir("sessions_dir", file.SessionsDir, &c.SessionsDir)
	c.applyFileDir("claude_projects_dir", file.ClaudeProjectsDir, &c.ClaudeProjectsDir)
	c.applyFileDir("gemini_dir", file.GeminiDir, &c.GeminiDir)
	c.applyFileDir("opencode_db_path", file.OpenCodeDBPath, &c.OpenCodeDBPath)
	return nil
}

func (c *Config) applyFileDir(key, value string, dst *string) {
	if value == "" {
		return
	}
	if c.dirSource[key] == dirEnv {
		return
	}
	*dst = value
}

func (c *Config) loadEnv() {
	if v := os.Getenv("CCBOX_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	c.loadEnvDir("sessions_dir", "CCBOX_SESSIONS_DIR", &c.SessionsDir)
	c.loadEnvDir("claude_projects_dir", "CLAUDE_PROJECTS_DIR", &c.ClaudeProjectsDir)
	c.loadEnvDir("gemini_dir", "CCBOX_GEMINI_DIR", &c.GeminiDir)
	c.loadEnvDir("opencode_db_path", "CCBOX_OPENCODE_DB_PATH", &c.OpenCodeDBPath)
}

func (c *Config) loadEnvDir(key, envVar string, dst *string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	*dst = v
	if c.dirSource == nil {
		c.dirSource = make(map[string]dirSource)
	}
	c.dirSource[key] = dirEnv
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse (cobra does this automatically) before
// passing fs to Load.
func RegisterServeFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "host to bind the remote control plane to")
	fs.Int("port", 8080, "port to listen on")
	fs.String("sessions-dir", "", "engine A (codex-style) sessions root")
	fs.String("claude-projects-dir", "", "engine B (claude-code-style) projects root")
	fs.String("gemini-dir", "", "engine C (gemini-style) sessions root")
	fs.String("opencode-db-path", "", "engine D (opencode-style) sqlite store path")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			if v, err := fs.GetInt("port"); err == nil {
				cfg.Port = v
			}
		case "sessions-dir":
			cfg.SessionsDir = f.Value.String()
		case "claude-projects-dir":
			cfg.ClaudeProjectsDir = f.Value.String()
		case "gemini-dir":
			cfg.GeminiDir = f.Value.String()
		case "opencode-db-path":
			cfg.OpenCodeDBPath = f.Value.String()
		}
	})
}

// ResolveStateDir returns the effective state directory by applying
// defaults and the CCBOX_STATE_DIR environment override, without
// reading any files.
func ResolveStateDir() (string, error) {
	cfg, err := Default()
	if err != nil {
		return "", err
	}
	if v := os.Getenv("CCBOX_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	return cfg.StateDir, nil
}

// EnsureStateDir creates the state directory itself if absent. The
// tasks store, identity file and pairing store each create their own
// subdirectories when they first write.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	return nil
}

// IdentityPath is where the remote control plane's Ed25519 device
// identity is persisted (see internal/remote.LoadOrCreateIdentity).
func (c Config) IdentityPath() string {
	return filepath.Join(c.StateDir, "remote", "identity.json")
}
