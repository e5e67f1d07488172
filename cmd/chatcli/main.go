package main

import (
	"chatgogo/messenger/internal/chat"
	"chatgogo/messenger/internal/config"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/thread"
	"chatgogo/messenger/internal/transport"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var Version = "dev"

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	baseURL    string
	token      string
	as         string
	role       string
}

// target selects the conversation a subcommand works on.
type target struct {
	peer     string
	threadID string
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.peer, "peer", "", "participant id of the direct-chat peer")
	cmd.Flags().StringVar(&t.threadID, "thread", "", "discussion thread id")
	cmd.MarkFlagsMutuallyExclusive("peer", "thread")
	cmd.MarkFlagsOneRequired("peer", "thread")
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	cmd := &cobra.Command{
		Use:   "chatcli",
		Short: "ChatGoGo command-line client",
		Long:  "Reads, sends and moderates direct and discussion messages against a ChatGoGo server.",
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "server base URL (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.as, "as", "", "own participant id (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.role, "role", "", "own role, e.g. moderator (overrides config)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newRoomKeyCmd())
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newEditCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newBestCmd(opts, true))
	cmd.AddCommand(newBestCmd(opts, false))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatcli %s\n", Version)
		},
	}
}

// loadClientConfig merges the config file, environment and flags.
func loadClientConfig(opts *globalOpts) (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.baseURL != "" {
		cfg.Client.BaseURL = opts.baseURL
	}
	if opts.token != "" {
		cfg.Client.Token = opts.token
	}
	if opts.as != "" {
		cfg.Client.ParticipantID = opts.as
	}
	if opts.role != "" {
		cfg.Client.Role = opts.role
	}
	return cfg, nil
}

// newConversation builds, but does not open, the selected conversation.
func newConversation(cfg config.ClientConfig, t target, live bool) (*chat.Conversation, error) {
	if cfg.ParticipantID == "" {
		return nil, errors.New("own participant id is required (--as or CHATGOGO_PARTICIPANT_ID)")
	}
	self := models.Participant{ID: cfg.ParticipantID, Role: cfg.Role}
	opts := chat.Options{
		Transport: transport.NewHTTPClient(cfg.BaseURL, cfg.Token),
		Token:     cfg.Token,
		Policy:    thread.Policy{RootEditableAfterReplies: cfg.RootEditableAfterReplies},
	}
	if live {
		opts.LiveURL = cfg.LiveURL()
		opts.RefreshInterval = cfg.RefreshInterval
	}
	if t.threadID != "" {
		return chat.NewThread(self, t.threadID, opts)
	}
	return chat.NewDirect(self, t.peer, opts)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			fmt.Fprintln(cmd.ErrOrStderr(), "session expired: obtain a new token")
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
