package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gookit/color"
	relaychat "github.com/relaychat/relaychat-go"
	"github.com/spf13/cobra"
)

var (
	sendFileEmail  string
	sendFileViaHub bool
)

func init() {
	sendFileCmd.Flags().StringVar(&sendFileEmail, "email", "", "Address the file is mailed to (required)")
	sendFileCmd.Flags().BoolVar(&sendFileViaHub, "hub", false, "Send through the hub instead of the REST mail endpoint")
	_ = sendFileCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(sendFileCmd)
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <user> <path>",
	Short: "Mail a file to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, path := args[0], args[1]
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		username, err := currentUser(cfg)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		name := filepath.Base(path)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		if sendFileViaHub {
			err = sendFileHub(ctx, cfg, username, peer, name, data)
		} else {
			err = newAPIClient(cfg).Mail.SendFile(ctx, relaychat.MailFileRequest{
				FromUser:      username,
				ToUser:        peer,
				MailToAddress: sendFileEmail,
				FileName:      name,
				FileBytes:     data,
			})
		}
		if err != nil {
			return err
		}
		color.Green.Printf("Sent %s (%d bytes) to %s\n", name, len(data), sendFileEmail)
		return nil
	},
}

func sendFileHub(ctx context.Context, cfg *Config, username, peer, name string, data []byte) error {
	mgr := newManager(cfg, relaychat.WithRetryPolicy(relaychat.RetryPolicy{MaxAttempts: -1}))
	if err := connectAs(ctx, mgr, username); err != nil {
		return err
	}
	defer mgr.Disconnect()
	return mgr.SendFile(ctx, peer, name, data, sendFileEmail)
}
