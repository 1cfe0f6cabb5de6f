package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	relaychat "github.com/relaychat/relaychat-go"
	"github.com/relaychat/relaychat-go/internal/archive"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <user>",
	Short: "Open an interactive conversation",
	Long: "Connect to the hub and chat with <user>. Lines you type are sent as messages.\n" +
		"Commands: /users, /history, /file <path> <email>, /quit",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		username, err := currentUser(cfg)
		if err != nil {
			return err
		}
		s := newChatSession(cfg, username, args[0])
		return s.run(cmd.Context())
	},
}

// chatSession owns one interactive conversation. The thread, presence set
// and backlog are touched only from loop tasks.
type chatSession struct {
	self string
	peer string

	loop    *relaychat.Loop
	mgr     *relaychat.ConnectionManager
	api     *relaychat.Client
	arch    *archive.Archive
	tracker *relaychat.PresenceTracker
	thread  *relaychat.Thread

	seeded  bool
	backlog []func() // live events held until history and presence are installed
}

func newChatSession(cfg *Config, self, peer string) *chatSession {
	loop := relaychat.NewLoop(128, logger)
	s := &chatSession{
		self:    self,
		peer:    peer,
		loop:    loop,
		mgr:     newManager(cfg, relaychat.WithExecutor(loop.Post)),
		api:     newAPIClient(cfg),
		tracker: relaychat.NewPresenceTracker(self),
		thread:  relaychat.NewThread(self, peer, nil),
	}
	if arch, err := openArchive(cfg); err == nil {
		s.arch = arch
	} else {
		logger.Warn("archive unavailable, messages will not be kept locally", "error", err)
	}
	return s
}

func (s *chatSession) run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go s.loop.Run(loopCtx)
	if s.arch != nil {
		defer s.arch.Close()
	}

	s.subscribe()
	if err := connectAs(ctx, s.mgr, s.self); err != nil {
		return err
	}
	defer s.mgr.Disconnect()

	history := relaychat.NewHistoryReconciler(s.mgr, s.api.Chat, logger).LoadThread(ctx, s.self, s.peer)
	s.store(history...)
	users, err := s.mgr.GetOnlineUsers(ctx)
	if err != nil {
		logger.Warn("failed to load contacts", "error", err)
		users = nil
	}
	_ = s.loop.Invoke(ctx, func() { s.seed(history, users) })

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *chatSession) subscribe() {
	events := s.mgr.Events()
	events.OnConnectionStatusChanged(func(status string) {
		color.Yellow.Printf("[%s]\n", status)
	})
	events.OnSystemMessage(func(text string) {
		color.Magenta.Printf("* %s\n", text)
	})
	events.OnUserStatusChanged(s.onStatus)
	events.OnMessageReceived(s.onMessage)
}

// seed installs the loaded thread and contact list, then replays the live
// events that arrived while they were loading. A nil users keeps the current set.
func (s *chatSession) seed(history []relaychat.ChatMessage, users []relaychat.User) {
	s.thread = relaychat.NewThread(s.self, s.peer, history)
	if users != nil {
		s.tracker.Replace(users)
	}
	s.printThread()
	s.printPeerStatus()

	backlog := s.backlog
	s.backlog, s.seeded = nil, true
	for _, fn := range backlog {
		fn()
	}
}

// live runs fn now, or after seed when the session is still loading.
func (s *chatSession) live(fn func()) {
	if !s.seeded {
		s.backlog = append(s.backlog, fn)
		return
	}
	fn()
}

func (s *chatSession) onMessage(m relaychat.ChatMessage) {
	s.store(m)
	s.live(func() {
		if s.thread.Merge(m) == relaychat.MergeAppended {
			printMessage(os.Stdout, s.self, m)
		}
	})
}

func (s *chatSession) onStatus(username string, online bool) {
	s.live(func() {
		if !s.tracker.ApplyStatusEvent(username, online) {
			return
		}
		if username == s.peer {
			s.printPeerStatus()
		}
	})
}

// handle runs one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case line == "/users":
		renderPresence(os.Stdout, s.tracker.Entries())
	case line == "/history":
		_ = s.loop.Invoke(ctx, s.printThread)
	case strings.HasPrefix(line, "/file "):
		s.sendFile(ctx, strings.Fields(strings.TrimPrefix(line, "/file ")))
	case strings.HasPrefix(line, "/"):
		color.Yellow.Printf("Unknown command %s\n", line)
	default:
		s.send(ctx, line)
	}
	return false
}

// send shows the message immediately and withdraws it if the hub rejects it.
func (s *chatSession) send(ctx context.Context, text string) {
	if !s.mgr.IsConnected() {
		color.Red.Println("Not connected; message not sent.")
		return
	}
	var echo relaychat.ChatMessage
	_ = s.loop.Invoke(ctx, func() {
		echo = s.thread.Echo(text, time.Now())
	})

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.mgr.SendMessage(callCtx, s.self, s.peer, text); err != nil {
		s.loop.Post(func() { s.thread.Retract(echo) })
		color.Red.Printf("Message not delivered: %v\n", err)
		return
	}
	s.store(echo)
}

func (s *chatSession) sendFile(ctx context.Context, args []string) {
	if len(args) != 2 {
		color.Yellow.Println("Usage: /file <path> <email>")
		return
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		color.Red.Printf("Cannot read file: %v\n", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := s.mgr.SendFile(callCtx, s.peer, filepath.Base(args[0]), data, args[1]); err != nil {
		color.Red.Printf("File not sent: %v\n", err)
		return
	}
	color.Green.Printf("Sent %s (%d bytes) to %s\n", filepath.Base(args[0]), len(data), args[1])
}

func (s *chatSession) store(msgs ...relaychat.ChatMessage) {
	if s.arch == nil || len(msgs) == 0 {
		return
	}
	if err := s.arch.Store(msgs...); err != nil {
		logger.Warn("failed to archive messages", "error", err)
	}
}

func (s *chatSession) printThread() {
	msgs := s.thread.Messages()
	if len(msgs) == 0 {
		color.Gray.Printf("No earlier messages with %s.\n", s.peer)
		return
	}
	for _, m := range msgs {
		printMessage(os.Stdout, s.self, m)
	}
}

func (s *chatSession) printPeerStatus() {
	entry, ok := s.tracker.Lookup(s.peer)
	switch {
	case !ok:
		color.Gray.Printf("%s is not a known contact.\n", s.peer)
	case entry.IsOnline:
		color.Green.Printf("%s is online.\n", s.peer)
	default:
		color.Gray.Printf("%s is offline.\n", s.peer)
	}
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
