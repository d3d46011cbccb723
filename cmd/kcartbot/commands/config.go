package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/kcartlabs/kcartbot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage kcartbot configuration.

Subcommands:
  get [key]          Show configuration value(s)
  set <key> <value>  Set a configuration value
  edit               Open config in $EDITOR
  path               Show config file path`,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show configuration",
	Long: `Show configuration values.

Examples:
  kcartbot config get                  # Show all config
  kcartbot config get server.base_url
  kcartbot config get chat.anonymous_history_limit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			enc := toml.NewEncoder(os.Stdout)
			return enc.Encode(cfg)
		}

		key := args[0]
		value := getConfigValue(cfg, key)
		if value == nil {
			return fmt.Errorf("key not found: %s", key)
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(value)
		}

		fmt.Printf("%v\n", value)
		return nil
	},
}

func getConfigValue(cfg *config.Config, key string) interface{} {
	parts := strings.Split(key, ".")

	switch parts[0] {
	case "server":
		if len(parts) == 1 {
			return cfg.Server
		}
		switch parts[1] {
		case "base_url":
			return cfg.Server.BaseURL
		case "ws_url":
			return cfg.Server.WSURL
		}

	case "chat":
		if len(parts) == 1 {
			return cfg.Chat
		}
		switch parts[1] {
		case "anonymous_history_limit":
			return cfg.Chat.AnonymousHistoryLimit
		}

	case "logging":
		if len(parts) == 1 {
			return cfg.Logging
		}
		switch parts[1] {
		case "level":
			return cfg.Logging.Level
		case "file":
			return cfg.Logging.File
		}
	}

	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Examples:
  kcartbot config set server.base_url https://api.chipchip.example
  kcartbot config set server.ws_url wss://api.chipchip.example/ws/chat/
  kcartbot config set logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

func setConfigValue(cfg *config.Config, key, value string) error {
	parts := strings.Split(key, ".")

	switch parts[0] {
	case "server":
		if len(parts) != 2 {
			return fmt.Errorf("invalid key: %s", key)
		}
		switch parts[1] {
		case "base_url":
			cfg.Server.BaseURL = value
		case "ws_url":
			cfg.Server.WSURL = value
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "chat":
		if len(parts) != 2 {
			return fmt.Errorf("invalid key: %s", key)
		}
		switch parts[1] {
		case "anonymous_history_limit":
			limit, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid limit: %s", value)
			}
			cfg.Chat.AnonymousHistoryLimit = limit
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "logging":
		if len(parts) != 2 {
			return fmt.Errorf("invalid key: %s", key)
		}
		switch parts[1] {
		case "level":
			cfg.Logging.Level = value
		case "file":
			cfg.Logging.File = value
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	default:
		return fmt.Errorf("unknown section: %s", parts[0])
	}

	return nil
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vim"
		}

		configPath := config.ConfigPath()

		// Ensure config exists
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}

		c := exec.Command(editor, configPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.ConfigPath())
	},
}
