package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	relaychat "github.com/relaychat/relaychat-go"
	"github.com/spf13/cobra"
)

var (
	usersJSON    bool
	usersOffline bool
)

func init() {
	usersCmd.Flags().BoolVar(&usersJSON, "json", false, "Output raw JSON")
	usersCmd.Flags().BoolVar(&usersOffline, "offline", false, "List contacts from the local archive without connecting")
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List contacts and who is online",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		username, err := currentUser(cfg)
		if err != nil {
			return err
		}

		var entries []relaychat.PresenceEntry
		if usersOffline {
			entries, err = archivedContacts(cfg, username)
		} else {
			entries, err = onlineContacts(cmd.Context(), cfg, username)
		}
		if err != nil {
			return err
		}

		if usersJSON {
			out, _ := json.MarshalIndent(entries, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		renderPresence(os.Stdout, entries)
		return nil
	},
}

func onlineContacts(ctx context.Context, cfg *Config, username string) ([]relaychat.PresenceEntry, error) {
	mgr := newManager(cfg)
	if err := connectAs(ctx, mgr, username); err != nil {
		return nil, err
	}
	defer mgr.Disconnect()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tracker := relaychat.NewPresenceTracker(username)
	entries, err := tracker.Snapshot(ctx, mgr)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return entries, nil
}

// archivedContacts lists everyone username has an archived thread with. Presence is unknown offline.
func archivedContacts(cfg *Config, username string) ([]relaychat.PresenceEntry, error) {
	arch, err := openArchive(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer arch.Close()

	names, err := arch.Contacts(username)
	if err != nil {
		return nil, err
	}
	tracker := relaychat.NewPresenceTracker(username)
	tracker.Replace(lo.Map(names, func(name string, _ int) relaychat.User {
		return relaychat.User{Username: name}
	}))
	return tracker.Entries(), nil
}

func renderPresence(w io.Writer, entries []relaychat.PresenceEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No other users.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User", "Status", "E-mail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, e := range entries {
		status := "offline"
		if e.IsOnline {
			status = "online"
		}
		table.Append([]string{e.Username, status, e.Email})
	}
	table.Render()
}
