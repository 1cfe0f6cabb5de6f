package main

import (
	"fmt"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// envSettings are overrides read from the process environment and an optional .env file.
type envSettings struct {
	Home        string `env:"RELAYCHAT_HOME"`
	ServerHost  string `env:"RELAYCHAT_SERVER_HOST"`
	ServerPort  int    `env:"RELAYCHAT_SERVER_PORT"`
	HubURL      string `env:"RELAYCHAT_HUB_URL"`
	Username    string `env:"RELAYCHAT_USERNAME"`
	LogLevel    string `env:"RELAYCHAT_LOG_LEVEL"`
	ArchivePath string `env:"RELAYCHAT_ARCHIVE_PATH"`
}

var environment envSettings

func loadEnvironment() (envSettings, error) {
	_ = godotenv.Load()

	var e envSettings
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return envSettings{}, fmt.Errorf("cannot read environment: %w", err)
	}
	return e, nil
}

// apply overlays the set variables on cfg. Host or port without an explicit
// hub URL re-derive it.
func (e envSettings) apply(cfg *Config) {
	if e.ServerHost != "" || e.ServerPort != 0 {
		settings := cfg.Settings()
		host, port := settings.ServerHost, settings.ServerPort
		if e.ServerHost != "" {
			host = e.ServerHost
		}
		if e.ServerPort != 0 {
			port = e.ServerPort
		}
		settings = settings.WithServer(host, port)
		cfg.Server = ConfigServer{Host: settings.ServerHost, Port: settings.ServerPort, HubURL: settings.HubURL}
	}
	if e.HubURL != "" {
		cfg.Server.HubURL = e.HubURL
	}
	if e.Username != "" {
		cfg.Auth.Username = e.Username
	}
	if e.LogLevel != "" {
		cfg.Log.Level = e.LogLevel
	}
	if e.ArchivePath != "" {
		cfg.Archive.Path = e.ArchivePath
	}
}
