package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	relaychat "github.com/relaychat/relaychat-go"
	"github.com/relaychat/relaychat-go/internal/archive"
)

const connectTimeout = 15 * time.Second

// currentUser resolves --as, then the logged-in username.
func currentUser(cfg *Config) (string, error) {
	if asUserFlag != "" {
		return asUserFlag, nil
	}
	if cfg.Auth.Username == "" {
		return "", fmt.Errorf("no username; run 'relaychat login <username>' first or pass --as")
	}
	return cfg.Auth.Username, nil
}

func newManager(cfg *Config, opts ...relaychat.Option) *relaychat.ConnectionManager {
	opts = append([]relaychat.Option{relaychat.WithLogger(logger)}, opts...)
	return relaychat.NewConnectionManager(cfg.Settings(), opts...)
}

func newAPIClient(cfg *Config) *relaychat.Client {
	opts := []relaychat.ClientOption{relaychat.WithRESTLogger(logger)}
	if cfg.Auth.Token != "" {
		opts = append(opts, relaychat.WithToken(cfg.Auth.Token))
	}
	return relaychat.NewClient(cfg.Settings().BaseURL(), opts...)
}

// connectAs opens the hub connection with the CLI's connect timeout.
func connectAs(ctx context.Context, mgr *relaychat.ConnectionManager, username string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return mgr.Connect(ctx, username)
}

// openArchive opens the local archive. Callers treat failure as "no archive".
func openArchive(cfg *Config) (*archive.Archive, error) {
	path := cfg.Archive.Path
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "archive")
	}
	return archive.Open(path, logger)
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
