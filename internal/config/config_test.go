package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("/data/pdfbot")

	if cfg.MaxFileMB != DefaultMaxFileMB {
		t.Errorf("MaxFileMB = %d, want %d", cfg.MaxFileMB, DefaultMaxFileMB)
	}
	if cfg.SessionTTLSeconds != DefaultSessionTTL {
		t.Errorf("SessionTTLSeconds = %d, want %d", cfg.SessionTTLSeconds, DefaultSessionTTL)
	}
	if cfg.LogDir != filepath.Join("/data/pdfbot", "log") {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want sqlite", cfg.Database.Type)
	}
	if cfg.Database.DataDir != filepath.Join("/data/pdfbot", "index") {
		t.Errorf("Database.DataDir = %q", cfg.Database.DataDir)
	}
	if cfg.MaxFileBytes() != int64(DefaultMaxFileMB)*1024*1024 {
		t.Errorf("MaxFileBytes = %d", cfg.MaxFileBytes())
	}
	if cfg.SessionTTL() != 6*time.Hour {
		t.Errorf("SessionTTL = %v, want 6h", cfg.SessionTTL())
	}
	if cfg.ToolTimeout() != 2*time.Minute {
		t.Errorf("ToolTimeout = %v, want 2m", cfg.ToolTimeout())
	}
}

func TestReadAppliesDefaults(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
bot_token = "tok"
base_dir = "/data/pdfbot"
allowed_users = [101, 202]
max_file_mb = 10
`))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.MaxFileMB != 10 {
		t.Errorf("MaxFileMB = %d, want configured 10", cfg.MaxFileMB)
	}
	if cfg.SessionTTLSeconds != DefaultSessionTTL {
		t.Errorf("SessionTTLSeconds = %d, want default %d", cfg.SessionTTLSeconds, DefaultSessionTTL)
	}
	if want := []int64{101, 202}; !reflect.DeepEqual(cfg.AllowedUsers, want) {
		t.Errorf("AllowedUsers = %v, want %v", cfg.AllowedUsers, want)
	}
	if cfg.Database.DataDir != filepath.Join("/data/pdfbot", "index") {
		t.Errorf("Database.DataDir = %q", cfg.Database.DataDir)
	}
}

func TestReadRejectsMalformedTOML(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader(`bot_token = [`)); err == nil {
		t.Error("expected a decode error")
	}
}

func TestReapInterval(t *testing.T) {
	tests := []struct {
		name     string
		ttl      int
		interval int
		want     time.Duration
	}{
		{"defaults to a quarter of the TTL", 3600, 0, 15 * time.Minute},
		{"configured value wins", 3600, 60, time.Minute},
		{"capped at the TTL", 3600, 7200, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{SessionTTLSeconds: tt.ttl, ReapIntervalSeconds: tt.interval}
			if got := cfg.ReapInterval(); got != tt.want {
				t.Errorf("ReapInterval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("ALLOWED_USERS", "11, 22,33")
	t.Setenv("PDF_BOT_BASE_DIR", "/env/base")
	t.Setenv("MAX_FILE_MB", "20")
	t.Setenv("SESSION_TTL", "600")

	cfg := NewConfig("/file/base")
	cfg.BotToken = "file-token"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.BotToken != "env-token" {
		t.Errorf("BotToken = %q, want env-token", cfg.BotToken)
	}
	if want := []int64{11, 22, 33}; !reflect.DeepEqual(cfg.AllowedUsers, want) {
		t.Errorf("AllowedUsers = %v, want %v", cfg.AllowedUsers, want)
	}
	if cfg.BaseDir != "/env/base" {
		t.Errorf("BaseDir = %q, want /env/base", cfg.BaseDir)
	}
	if cfg.MaxFileMB != 20 {
		t.Errorf("MaxFileMB = %d, want 20", cfg.MaxFileMB)
	}
	if cfg.SessionTTLSeconds != 600 {
		t.Errorf("SessionTTLSeconds = %d, want 600", cfg.SessionTTLSeconds)
	}
}

func TestApplyEnvLeavesUnsetFieldsAlone(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("ALLOWED_USERS", "")

	cfg := NewConfig(t.TempDir())
	cfg.BotToken = "file-token"
	cfg.AllowedUsers = []int64{5}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.BotToken != "file-token" {
		t.Errorf("BotToken overwritten by empty env: %q", cfg.BotToken)
	}
	if want := []int64{5}; !reflect.DeepEqual(cfg.AllowedUsers, want) {
		t.Errorf("AllowedUsers = %v, want %v", cfg.AllowedUsers, want)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad user id", "ALLOWED_USERS", "11,bob"},
		{"bad file size", "MAX_FILE_MB", "ten"},
		{"bad ttl", "SESSION_TTL", "6h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := NewConfig(t.TempDir())
			if err := cfg.ApplyEnv(); err == nil {
				t.Errorf("ApplyEnv accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := NewConfig(t.TempDir())
	cfg.BotToken = "tok"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noToken := NewConfig(t.TempDir())
	if err := noToken.Validate(); err == nil {
		t.Error("missing bot token accepted")
	}

	noBase := &Config{BotToken: "tok"}
	noBase.applyDefaults()
	if err := noBase.Validate(); err == nil {
		t.Error("missing base dir accepted")
	}
}

func TestInitRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdfbot.toml")
	cfg := NewConfig(dir)

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(path, cfg); err == nil {
		t.Error("Init overwrote an existing config file")
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile: %v", err)
	}
	if got.MaxFileMB != cfg.MaxFileMB {
		t.Errorf("round-tripped MaxFileMB = %d, want %d", got.MaxFileMB, cfg.MaxFileMB)
	}
}
