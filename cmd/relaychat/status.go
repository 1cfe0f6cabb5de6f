package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gookit/color"
	"github.com/spf13/cobra"
)

var statusCheck bool

func init() {
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Also connect to the hub to verify it is reachable")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and login status",
	Long:  "Display the server settings, the stored login and token expiry, and optionally probe the hub.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		settings := cfg.Settings()

		fmt.Println("Server:")
		fmt.Printf("  Host:     %s\n", settings.ServerHost)
		fmt.Printf("  Port:     %d\n", settings.ServerPort)
		fmt.Printf("  Hub URL:  %s\n", valueOrDefault(settings.HubURL, "(not set)"))
		fmt.Printf("  REST URL: %s\n", settings.BaseURL())
		if err := settings.Validate(); err != nil {
			color.Yellow.Printf("  Warning:  %v\n", err)
		}

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  Username: %s\n", valueOrDefault(cfg.Auth.Username, "(not logged in)"))
		fmt.Printf("  Token:    %s\n", tokenStatus(cfg.Auth.Token, time.Now()))

		if !statusCheck {
			return nil
		}

		fmt.Println()
		fmt.Println("Hub:")
		username, err := currentUser(cfg)
		if err != nil {
			return err
		}
		mgr := newManager(cfg)
		if err := connectAs(cmd.Context(), mgr, username); err != nil {
			color.Red.Printf("  unreachable: %v\n", err)
			return nil
		}
		defer mgr.Disconnect()
		color.Green.Println("  reachable, joined as " + username)
		return nil
	},
}

// tokenStatus describes a stored token. The signature is not checked; only the server can do that.
func tokenStatus(token string, now time.Time) string {
	if token == "" {
		return "none"
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "present (opaque)"
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "present (no expiry set)"
	}
	if now.Before(exp.Time) {
		return fmt.Sprintf("valid (expires %s)", exp.Time.Format(time.RFC3339))
	}
	return fmt.Sprintf("EXPIRED (expired %s)", exp.Time.Format(time.RFC3339))
}
