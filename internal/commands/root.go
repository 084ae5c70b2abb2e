// Package commands provides the vinochat terminal client.
package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"vinochat/internal/chatclient"
	"vinochat/internal/logger"
)

// Version is set at build time.
var Version = "1.0.0"

const defaultServer = "http://localhost:8000"

type rootOptions struct {
	server   string
	location string
	timeout  time.Duration
	style    string
	width    int
	logLevel string
}

// NewRootCmd builds the vinochat command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "vinochat",
		Short: "Terminal client for the wine concierge",
		Long: `vinochat talks to a running wine concierge server.

Examples:
  vinochat chat                          Start an interactive conversation
  vinochat ask "What pairs with salmon?" Ask a single question
  vinochat weather --location Bordeaux   Show vineyard weather
  vinochat search "napa cabernet"        Search the web
  vinochat health                        Check the server`,
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetOutput(cmd.ErrOrStderr(), opts.logLevel, true)
		},
	}

	server := os.Getenv("VINOCHAT_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Concierge server base URL")
	root.PersistentFlags().StringVar(&opts.location, "location", chatclient.DefaultLocation, "Location used for weather aware answers")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", chatclient.DefaultTimeout, "Request timeout")
	root.PersistentFlags().StringVar(&opts.style, "style", "auto", "Markdown style (auto, dark, light, notty)")
	root.PersistentFlags().IntVar(&opts.width, "width", 80, "Word wrap width for replies")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "error", "Client log level")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newWeatherCmd(opts),
		newSearchCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newSession(cmd *cobra.Command, opts *rootOptions, extra ...chatclient.Option) (*chatclient.Session, error) {
	view, err := newTerminalView(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.style, opts.width)
	if err != nil {
		return nil, err
	}
	options := append([]chatclient.Option{
		chatclient.WithLocation(opts.location),
		chatclient.WithTimeout(opts.timeout),
	}, extra...)
	return chatclient.New(opts.server, view, options...), nil
}
