package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "docyard.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dy",
		Short: "Docyard document processing orchestrator",
		Long:  "Docyard converts, tiles, thumbnails and OCRs uploaded documents through a shared job queue.",
		// Errors are already printed by cobra; usage only on flag mistakes.
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newDocumentCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newReprocessCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dy %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
