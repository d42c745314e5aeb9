package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for murkmaw.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "murkmaw",
		Short: "Bounded concurrent web crawler with image harvesting",
		Long: `murkmaw crawls the pages reachable from a seed URL with a fixed pool of
workers and stops once a configurable number of pages has been discovered.

Each run writes the link graph (pages, parent and child edges, titles and
images) to JSON, builds a catalog of every image occurrence under a
generated ID, downloads the catalogued images and records the run in a
local history database.

Requests can be routed through a SOCKS5 proxy or an embedded Tor daemon.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
