package main

import (
	"chatgogo/messenger/internal/api/handler"
	"chatgogo/messenger/internal/attachment"
	"chatgogo/messenger/internal/chat"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/roomid"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCmd(opts *globalOpts) *cobra.Command {
	var (
		secret      string
		role        string
		departments []string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <participant-id>",
		Short: "Issue a bearer token for a participant",
		Long:  "Signs a token with the server secret. Intended for development and tests.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(opts)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return errors.New("--secret or CHATGOGO_JWT_SECRET is required")
			}
			if ttl == 0 {
				ttl = cfg.Server.TokenTTL
			}

			auth := handler.NewAuthenticator(secret, ttl)
			tok, err := auth.IssueToken(models.Participant{ID: args[0], Role: role, Departments: departments})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (defaults to config)")
	cmd.Flags().StringVar(&role, "token-role", "", "role claim, e.g. moderator")
	cmd.Flags().StringSliceVar(&departments, "departments", nil, "department claims")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to config)")
	return cmd
}

func newRoomKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "room-key <participant> <participant>",
		Short: "Print the direct-room key of two participants",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := roomid.DeriveKey(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newHistoryCmd(opts *globalOpts) *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the messages of a room or thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(opts)
			if err != nil {
				return err
			}
			conv, err := newConversation(cfg.Client, t, false)
			if err != nil {
				return err
			}
			defer conv.Close()
			if err := conv.Open(cmd.Context()); err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), conv.Snapshot())
		},
	}
	t.bind(cmd)
	return cmd
}

func newSendCmd(opts *globalOpts) *cobra.Command {
	var (
		t         target
		filePath  string
		newThread bool
	)

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a message, optionally with an attachment",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if newThread {
				t.threadID = uuid.NewString()
				fmt.Fprintf(cmd.OutOrStdout(), "Started thread %s\n", t.threadID)
			}
			if t.peer == "" && t.threadID == "" {
				return errors.New("one of --peer, --thread or --new-thread is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(opts)
			if err != nil {
				return err
			}
			conv, err := newConversation(cfg.Client, t, false)
			if err != nil {
				return err
			}
			defer conv.Close()

			if filePath != "" {
				f, err := attachment.ReadFile(filePath)
				if err != nil {
					return err
				}
				if _, err := conv.Uploader().Select(f); err != nil {
					return err
				}
			}

			msg, err := conv.SendSelected(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				var sf *chat.SendFailedError
				if errors.As(err, &sf) {
					return fmt.Errorf("message not delivered: %s", sf.Reason)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d to %s\n", msg.ID, conv.Ref.Topic())
			return nil
		},
	}

	cmd.Flags().StringVar(&t.peer, "peer", "", "participant id of the direct-chat peer")
	cmd.Flags().StringVar(&t.threadID, "thread", "", "discussion thread id")
	cmd.Flags().BoolVar(&newThread, "new-thread", false, "start a new discussion thread with this message")
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "attach a file")
	cmd.MarkFlagsMutuallyExclusive("peer", "thread", "new-thread")
	return cmd
}

func newWatchCmd(opts *globalOpts) *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the history, then new messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			conv, err := newConversation(cfg.Client, t, true)
			if err != nil {
				return err
			}
			defer conv.Close()
			if err := conv.Open(ctx); err != nil {
				return err
			}
			if err := printMessages(out, conv.Snapshot()); err != nil {
				return err
			}
			if conv.Degraded() {
				fmt.Fprintf(out, "live updates unavailable, refreshing every %s\n", cfg.Client.RefreshInterval)
			}

			// Pushed messages are printed by polling the store, so events
			// from refreshes show up too.
			seen := make(map[uint64]bool)
			for m := range conv.Snapshot() {
				seen[m.ID] = true
			}
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					for m := range conv.Snapshot() {
						if m.Confirmed() && !seen[m.ID] {
							seen[m.ID] = true
							fmt.Fprintln(out, formatLine(m))
						}
					}
				}
			}
		},
	}
	t.bind(cmd)
	return cmd
}

func newEditCmd(opts *globalOpts) *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "edit <message-id> <text...>",
		Short: "Change the text of one of your messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withOpenConversation(cmd, opts, t, func(conv *chat.Conversation) error {
				msg, err := conv.Edit(cmd.Context(), id, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatLine(msg))
				return nil
			})
		},
	}
	t.bind(cmd)
	return cmd
}

func newDeleteCmd(opts *globalOpts) *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete a message (hidden for you in a room, removed in a thread)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withOpenConversation(cmd, opts, t, func(conv *chat.Conversation) error {
				if err := conv.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted message %d\n", id)
				return nil
			})
		},
	}
	t.bind(cmd)
	return cmd
}

func newBestCmd(opts *globalOpts, mark bool) *cobra.Command {
	var threadID string
	use, short := "mark-best", "Mark a reply as the thread's best reply"
	if !mark {
		use, short = "unmark-best", "Clear the best-reply flag from a reply"
	}

	cmd := &cobra.Command{
		Use:   use + " <message-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withOpenConversation(cmd, opts, target{threadID: threadID}, func(conv *chat.Conversation) error {
				var msg models.Message
				if mark {
					msg, err = conv.MarkBest(cmd.Context(), id)
				} else {
					msg, err = conv.UnmarkBest(cmd.Context(), id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatLine(msg))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "discussion thread id (required)")
	cmd.MarkFlagRequired("thread")
	return cmd
}

// withOpenConversation loads the conversation history so policy checks
// see the current thread state, then runs fn.
func withOpenConversation(cmd *cobra.Command, opts *globalOpts, t target, fn func(*chat.Conversation) error) error {
	cfg, err := loadClientConfig(opts)
	if err != nil {
		return err
	}
	conv, err := newConversation(cfg.Client, t, false)
	if err != nil {
		return err
	}
	defer conv.Close()
	if err := conv.Open(cmd.Context()); err != nil {
		return err
	}
	return fn(conv)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}
