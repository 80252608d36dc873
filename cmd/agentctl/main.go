// Command agentctl is the local control plane for coding-agent sessions:
// it scans on-disk session logs from four engines into one canonical
// timeline, supervises spawned agent processes, and exposes both over an
// authenticated remote protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Local control plane for coding-agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newSpawnCmd())
	root.AddCommand(newTasksCmd())
	root.AddCommand(newForkCmd())
	root.AddCommand(newPairCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "agentctl %s\n", version)
			return nil
		},
	}
}
