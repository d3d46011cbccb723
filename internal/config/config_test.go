package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KCARTBOT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.BaseURL != "http://localhost:8000" {
		t.Errorf("base_url = %s", cfg.Server.BaseURL)
	}
	if cfg.Server.WSURL != "ws://localhost:8000/ws/chat/" {
		t.Errorf("ws_url = %s", cfg.Server.WSURL)
	}
	if cfg.Chat.AnonymousHistoryLimit != 20 {
		t.Errorf("anonymous_history_limit = %d", cfg.Chat.AnonymousHistoryLimit)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KCARTBOT_STATE_DIR", dir)

	content := `
[server]
base_url = "https://api.chipchip.example"
ws_url = "wss://api.chipchip.example/ws/chat/"

[chat]
anonymous_history_limit = 50
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.BaseURL != "https://api.chipchip.example" {
		t.Errorf("base_url = %s", cfg.Server.BaseURL)
	}
	if cfg.Chat.AnonymousHistoryLimit != 50 {
		t.Errorf("anonymous_history_limit = %d", cfg.Chat.AnonymousHistoryLimit)
	}
	// Unset keys keep defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KCARTBOT_STATE_DIR", dir)

	content := `
[server]
base_url = "https://from-file.example"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KCARTBOT_SERVER_URL", "https://from-env.example")
	t.Setenv("KCARTBOT_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.BaseURL != "https://from-env.example" {
		t.Errorf("base_url = %s", cfg.Server.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("KCARTBOT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Server.BaseURL = "https://saved.example"
	cfg.Chat.AnonymousHistoryLimit = 5

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if reloaded.Server.BaseURL != "https://saved.example" {
		t.Errorf("base_url = %s", reloaded.Server.BaseURL)
	}
	if reloaded.Chat.AnonymousHistoryLimit != 5 {
		t.Errorf("anonymous_history_limit = %d", reloaded.Chat.AnonymousHistoryLimit)
	}
}

func TestStatePaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KCARTBOT_STATE_DIR", dir)

	if got := CredentialsPath(); got != filepath.Join(dir, "credentials") {
		t.Errorf("CredentialsPath = %s", got)
	}
	if got := HistoryPath(); got != filepath.Join(dir, "chat_history.json") {
		t.Errorf("HistoryPath = %s", got)
	}

	if err := EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	if _, err := os.Stat(LogsDir()); err != nil {
		t.Errorf("logs dir missing: %v", err)
	}
}
