// Package cli implements the hostbridge command line: the server itself and
// small clients for its socket protocol and admin API.
package cli

import (
	"log/slog"
	"os"

	"github.com/me/hostbridge/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagAddr      string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the admin API URL, checking HOSTBRIDGE_ADMIN first.
func defaultServer() string {
	if s := os.Getenv("HOSTBRIDGE_ADMIN"); s != "" {
		return s
	}
	return "http://127.0.0.1:9877"
}

// defaultAddr returns the socket address, checking HOSTBRIDGE_ADDR first.
func defaultAddr() string {
	if s := os.Getenv("HOSTBRIDGE_ADDR"); s != "" {
		return s
	}
	return "127.0.0.1:9876"
}

// NewRootCmd creates the root cobra command for the hostbridge CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hostbridge",
		Short: "hostbridge: JSON-RPC operation scheduler for a single-threaded host",
		Long: "hostbridge accepts newline-delimited JSON-RPC requests on a loopback socket, " +
			"runs each as a tracked operation against the host environment and answers asynchronously.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Admin API URL (or HOSTBRIDGE_ADMIN env)")
	root.PersistentFlags().StringVar(&flagAddr, "addr", defaultAddr(), "Socket address (or HOSTBRIDGE_ADDR env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json, auto)")

	root.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newStatusCmd(),
		newOpsCmd(),
	)

	return root
}
