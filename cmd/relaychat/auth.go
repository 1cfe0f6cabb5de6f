package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gookit/color"
	relaychat "github.com/relaychat/relaychat-go"
	"github.com/spf13/cobra"
)

var (
	loginPassword    string
	registerEmail    string
	registerPassword string
)

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "E-mail address for the new account")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Password (prompted when omitted)")
	_ = registerCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and remember the username",
	Long:  "Authenticate against the relay and store the username (and token, if the server issues one) in the local configuration.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(args[0])

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		password, err := passwordFrom(loginPassword, os.Stdin)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		result, err := newAPIClient(cfg).Auth.Login(ctx, relaychat.LoginRequest{
			Username: username,
			Password: password,
		})
		if err != nil {
			return loginError(err)
		}

		stored, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		stored.Auth.Username = username
		stored.Auth.Token = result.Token
		if err := saveConfig(stored); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		color.Green.Printf("Logged in as %s\n", username)
		if result.Message != "" {
			fmt.Println(result.Message)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create a new account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		password, err := passwordFrom(registerPassword, os.Stdin)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		result, err := newAPIClient(cfg).Auth.Register(ctx, relaychat.RegisterRequest{
			Username: strings.TrimSpace(args[0]),
			Email:    strings.TrimSpace(registerEmail),
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		color.Green.Printf("Account %s created\n", args[0])
		if result.Message != "" {
			fmt.Println(result.Message)
		}
		fmt.Printf("Run 'relaychat login %s' to sign in.\n", args[0])
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored username and token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// passwordFrom returns the flag value or reads one line from in.
func passwordFrom(flag string, in io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Print("Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func loginError(err error) error {
	var apiErr *relaychat.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("login failed: %s", apiErr.Message)
	}
	return fmt.Errorf("login failed: %w", err)
}
