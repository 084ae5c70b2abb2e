package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vinochat/internal/chatclient"
	"vinochat/internal/models"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation with the concierge.

Commands inside the chat:
  /weather        refresh the weather for --location
  /search <query> run a web search
  /suggest <text> submit a suggested question
  /quit           leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(cmd, opts)
			if err != nil {
				return err
			}
			return runChat(cmd, sess)
		},
	}
}

func runChat(cmd *cobra.Command, sess *chatclient.Session) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// a failed health check leaves the chat usable
	_ = sess.CheckHealth(ctx)
	_, _ = sess.FetchWeather(ctx)
	fmt.Fprintln(out, dimStyle.Render("Ask about wines, pairings or the weather. /quit to leave."))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, userLabelStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		command, rest, _ := strings.Cut(line, " ")
		switch command {
		case "":
		case "/quit", "/exit":
			return nil
		case "/weather":
			_, _ = sess.FetchWeather(ctx)
		case "/search":
			_, _ = sess.Search(ctx, rest)
		case "/suggest":
			sess.Suggest(ctx, rest)
		default:
			sess.Submit(ctx, line)
		}
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(cmd, opts)
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")
			if !sess.Submit(cmd.Context(), question) {
				return errors.New("question must not be empty")
			}
			transcript := sess.Transcript()
			if last := transcript[len(transcript)-1]; last.Role != models.RoleAssistant {
				return errors.New("no answer received")
			}
			return nil
		},
	}
}

func newWeatherCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "weather",
		Short: "Show the weather for --location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(cmd, opts)
			if err != nil {
				return err
			}
			_, err = sess.FetchWeather(cmd.Context())
			return err
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the web",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(cmd, opts)
			if err != nil {
				return err
			}
			_, err = sess.Search(cmd.Context(), strings.Join(args, " "))
			return err
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(cmd, opts)
			if err != nil {
				return err
			}
			if err := sess.CheckHealth(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
