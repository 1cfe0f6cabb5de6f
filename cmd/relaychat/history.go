package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gookit/color"
	relaychat "github.com/relaychat/relaychat-go"
	"github.com/spf13/cobra"
)

var (
	historyOffline bool
	historyJSON    bool
	historyLimit   int
)

func init() {
	historyCmd.Flags().BoolVar(&historyOffline, "offline", false, "Read the local archive instead of the server")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Show at most this many messages (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Show the conversation with a user",
	Long: "Load the thread with <user> from the hub, falling back to the REST history endpoint.\n" +
		"Loaded messages are kept in a local archive that --offline reads.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		username, err := currentUser(cfg)
		if err != nil {
			return err
		}

		var msgs []relaychat.ChatMessage
		if historyOffline {
			msgs, err = archivedThread(cfg, username, peer)
			if err != nil {
				return err
			}
		} else {
			msgs = loadThread(cmd.Context(), cfg, username, peer)
		}
		if historyLimit > 0 && len(msgs) > historyLimit {
			msgs = msgs[len(msgs)-historyLimit:]
		}

		if historyJSON {
			out, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		if len(msgs) == 0 {
			fmt.Printf("No messages with %s.\n", peer)
			return nil
		}
		for _, m := range msgs {
			printMessage(os.Stdout, username, m)
		}
		return nil
	},
}

// loadThread connects when possible and reconciles the thread; the REST
// fallback covers an unreachable hub.
func loadThread(ctx context.Context, cfg *Config, username, peer string) []relaychat.ChatMessage {
	mgr := newManager(cfg, relaychat.WithRetryPolicy(relaychat.RetryPolicy{MaxAttempts: -1}))
	if err := connectAs(ctx, mgr, username); err != nil {
		logger.Warn("hub unavailable, using REST history", "error", err)
	} else {
		defer mgr.Disconnect()
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	msgs := relaychat.NewHistoryReconciler(mgr, newAPIClient(cfg).Chat, logger).LoadThread(ctx, username, peer)
	archiveMessages(cfg, msgs...)
	return msgs
}

func archivedThread(cfg *Config, username, peer string) ([]relaychat.ChatMessage, error) {
	arch, err := openArchive(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer arch.Close()
	return arch.Thread(username, peer, 0)
}

// archiveMessages stores msgs, logging instead of failing.
func archiveMessages(cfg *Config, msgs ...relaychat.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	arch, err := openArchive(cfg)
	if err != nil {
		logger.Debug("archive unavailable", "error", err)
		return
	}
	defer arch.Close()
	if err := arch.Store(msgs...); err != nil {
		logger.Warn("failed to archive messages", "error", err)
	}
}

func printMessage(w io.Writer, self string, m relaychat.ChatMessage) {
	stamp := m.Timestamp.Local().Format("2006-01-02 15:04")
	if m.From == self {
		fmt.Fprintf(w, "%s  %s %s\n", color.Gray.Sprint(stamp), color.Green.Sprint("me:"), m.Message)
		return
	}
	fmt.Fprintf(w, "%s  %s %s\n", color.Gray.Sprint(stamp), color.Cyan.Sprint(m.From+":"), m.Message)
}
