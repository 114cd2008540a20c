package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for the policy knobs, matching the values the bot shipped with.
const (
	DefaultMaxFileMB      = 45
	DefaultSessionTTL     = 6 * 3600 // seconds
	DefaultToolTimeout    = 120      // seconds
	DefaultDPI            = 150
	DefaultMaxRenderPages = 200
)

// Config is the process-wide configuration, read once at startup and
// immutable thereafter.
type Config struct {
	BotToken     string  `toml:"bot_token"`
	AllowedUsers []int64 `toml:"allowed_users"`
	BaseDir      string  `toml:"base_dir"`
	LogDir       string  `toml:"log_dir"`

	MaxFileMB           int `toml:"max_file_mb"`
	SessionTTLSeconds   int `toml:"session_ttl_seconds"`
	ReapIntervalSeconds int `toml:"reap_interval_seconds"` // 0 = SessionTTL/4
	ToolTimeoutSeconds  int `toml:"tool_timeout_seconds"`
	DefaultDPI          int `toml:"default_dpi"`
	MaxRenderPages      int `toml:"max_render_pages"`

	Database DatabaseConfig `toml:"database"`
	Tools    ToolsConfig    `toml:"tools"`
}

// DatabaseConfig configures the session index.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ToolsConfig holds the external PDF tool binary paths. Empty fields fall
// back to looking the tool up on PATH by its conventional name.
type ToolsConfig struct {
	QPDF        string `toml:"qpdf,omitempty"`
	PDFToPPM    string `toml:"pdftoppm,omitempty"`
	PDFInfo     string `toml:"pdfinfo,omitempty"`
	Ghostscript string `toml:"ghostscript,omitempty"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "index"),
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxFileMB == 0 {
		c.MaxFileMB = DefaultMaxFileMB
	}
	if c.SessionTTLSeconds == 0 {
		c.SessionTTLSeconds = DefaultSessionTTL
	}
	if c.ToolTimeoutSeconds == 0 {
		c.ToolTimeoutSeconds = DefaultToolTimeout
	}
	if c.DefaultDPI == 0 {
		c.DefaultDPI = DefaultDPI
	}
	if c.MaxRenderPages == 0 {
		c.MaxRenderPages = DefaultMaxRenderPages
	}
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" && c.BaseDir != "" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "index")
	}
}

// MaxFileBytes returns the upload size cap in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// SessionTTL returns the idle expiry duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// ReapInterval returns the reaper sweep interval: the configured value, or
// SessionTTL/4 when unset, never longer than SessionTTL.
func (c *Config) ReapInterval() time.Duration {
	interval := time.Duration(c.ReapIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = c.SessionTTL() / 4
	}
	if interval > c.SessionTTL() {
		interval = c.SessionTTL()
	}
	return interval
}

// ToolTimeout returns the upper bound for one external tool invocation.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// ApplyEnv overrides config fields from the environment: BOT_TOKEN,
// ALLOWED_USERS, PDF_BOT_BASE_DIR, MAX_FILE_MB, SESSION_TTL.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("BOT_TOKEN")); v != "" {
		c.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_USERS")); v != "" {
		users, err := parseUserList(v)
		if err != nil {
			return fmt.Errorf("parsing ALLOWED_USERS: %w", err)
		}
		c.AllowedUsers = users
	}
	if v := strings.TrimSpace(os.Getenv("PDF_BOT_BASE_DIR")); v != "" {
		c.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("MAX_FILE_MB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing MAX_FILE_MB: %w", err)
		}
		c.MaxFileMB = n
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing SESSION_TTL: %w", err)
		}
		c.SessionTTLSeconds = n
	}
	return nil
}

func parseUserList(s string) ([]int64, error) {
	var users []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a user id", part)
		}
		users = append(users, id)
	}
	return users, nil
}

// Validate checks the startup-fatal conditions: a bot token must be present
// and the base directory must be writable.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required (set it in the config file or BOT_TOKEN)")
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if err := os.MkdirAll(c.BaseDir, 0755); err != nil {
		return fmt.Errorf("base_dir is not usable: %w", err)
	}
	probe := filepath.Join(c.BaseDir, ".write-probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return fmt.Errorf("base_dir is not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and fills in defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
