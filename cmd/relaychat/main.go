package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	toml "github.com/pelletier/go-toml/v2"
	relaychat "github.com/relaychat/relaychat-go"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitRuntime = 1
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.relaychat/config.toml.
type Config struct {
	Server  ConfigServer  `toml:"server"`
	Auth    ConfigAuth    `toml:"auth"`
	Log     ConfigLog     `toml:"log"`
	Archive ConfigArchive `toml:"archive"`
}

// ConfigServer locates the relay.
type ConfigServer struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	HubURL string `toml:"hub_url"`
}

// ConfigAuth holds the last successful login.
type ConfigAuth struct {
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

type ConfigLog struct {
	Level string `toml:"level"`
}

type ConfigArchive struct {
	Path string `toml:"path"`
}

// Settings converts the server section, filling unset fields with defaults.
func (c *Config) Settings() relaychat.Settings {
	s := relaychat.DefaultSettings()
	if c.Server.Host != "" {
		s.ServerHost = c.Server.Host
	}
	if c.Server.Port != 0 {
		s.ServerPort = c.Server.Port
	}
	if c.Server.HubURL != "" {
		s.HubURL = c.Server.HubURL
	}
	return s
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.relaychat (or $RELAYCHAT_HOME), creating it if needed.
func configDir() (string, error) {
	dir := environment.Home
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".relaychat")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file and applies environment overrides.
// A missing file yields a zero-value Config. Never pass the result to saveConfig.
func loadConfig() (*Config, error) {
	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	environment.apply(cfg)
	return cfg, nil
}

// loadConfigFile reads the config file as stored, without environment overrides.
// Commands that write the file start from this.
func loadConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("cannot read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "server.host").
// Changing host or port re-derives the hub URL.
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.host)")
	}

	switch section {
	case "server":
		settings := cfg.Settings()
		switch field {
		case "host":
			settings = settings.WithServer(value, settings.ServerPort)
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("port must be a number: %w", err)
			}
			settings = settings.WithServer(settings.ServerHost, port)
		case "hub_url":
			settings.HubURL = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
		if err := settings.Validate(); err != nil {
			return err
		}
		cfg.Server = ConfigServer{Host: settings.ServerHost, Port: settings.ServerPort, HubURL: settings.HubURL}
	case "auth":
		switch field {
		case "username":
			cfg.Auth.Username = value
		case "token":
			cfg.Auth.Token = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "log":
		if field != "level" {
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
		cfg.Log.Level = strings.ToUpper(value)
	case "archive":
		if field != "path" {
			return fmt.Errorf("unknown field %q in section [archive]", field)
		}
		cfg.Archive.Path = value
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth, log, archive)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	logLevelFlag string
	asUserFlag   string

	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:           "relaychat",
	Short:         "Relay chat client",
	Long:          "Command-line client for a hub-based chat relay.\nLog in, list contacts, read and send messages, and forward files by e-mail.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		environment = env

		level := logLevelFlag
		if level == "" {
			if cfg, err := loadConfig(); err == nil {
				level = cfg.Log.Level
			}
		}
		if level == "" {
			level = "WARN"
		}
		logger = logs.GetLoggerFromString(strings.ToUpper(level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().StringVar(&asUserFlag, "as", "", "Act as this username instead of the logged-in one")
}

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			path := recordCrash("unhandled panic", r, debug.Stack())
			color.Red.Printf("relaychat stopped unexpectedly: %v\n", r)
			if path != "" {
				fmt.Fprintf(os.Stderr, "Details were written to %s\n", path)
			}
			code = exitRuntime
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red.Printf("Error: %v\n", err)
		return exitRuntime
	}
	return exitOK
}
