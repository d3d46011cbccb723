// Package config handles configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the kcartbot client configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Chat    ChatConfig    `toml:"chat"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds backend endpoint settings.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`
}

// ChatConfig holds chat behaviour settings.
type ChatConfig struct {
	// AnonymousHistoryLimit bounds the locally persisted timeline
	// when not logged in.
	AnonymousHistoryLimit int `toml:"anonymous_history_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Chat.AnonymousHistoryLimit <= 0 {
		cfg.Chat.AnonymousHistoryLimit = 20
	}

	return cfg, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	if p := os.Getenv("KCARTBOT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(StateDir(), "config.toml")
}

// StateDir returns the kcartbot state directory.
func StateDir() string {
	if p := os.Getenv("KCARTBOT_STATE_DIR"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kcartbot")
}

// CredentialsPath returns the path of the stored auth token.
func CredentialsPath() string {
	return filepath.Join(StateDir(), "credentials")
}

// HistoryPath returns the fixed slot for the anonymous chat history.
func HistoryPath() string {
	return filepath.Join(StateDir(), "chat_history.json")
}

// LogsDir returns the logs directory.
func LogsDir() string {
	return filepath.Join(StateDir(), "logs")
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8000",
			WSURL:   "ws://localhost:8000/ws/chat/",
		},
		Chat: ChatConfig{
			AnonymousHistoryLimit: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() {
	if url := os.Getenv("KCARTBOT_SERVER_URL"); url != "" {
		c.Server.BaseURL = url
	}
	if url := os.Getenv("KCARTBOT_WS_URL"); url != "" {
		c.Server.WSURL = url
	}
	if level := os.Getenv("KCARTBOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Save writes the config to file.
func (c *Config) Save() error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// EnsureDirs creates necessary directories.
func EnsureDirs() error {
	dirs := []string{
		StateDir(),
		LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return nil
}
