// Package commands implements the udprouterctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/xdp-tools/udprouter/internal/server"
)

var (
	// client is the ConnectRPC router control client, initialized in
	// PersistentPreRunE.
	client *server.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's control-plane address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for udprouterctl.
var rootCmd = &cobra.Command{
	Use:   "udprouterctl",
	Short: "CLI client for the udprouterd control plane",
	Long:  "udprouterctl communicates with udprouterd via ConnectRPC to inspect counters and steer the packet rewriter.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = server.NewClient(http.DefaultClient, "http://"+serverAddr)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:8888",
		"udprouterd control-plane address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(setLocalNetCmd())
	rootCmd.AddCommand(setBackendNetCmd())
	rootCmd.AddCommand(setGatewayMACCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
