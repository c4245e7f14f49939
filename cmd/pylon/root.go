package main

import (
	"fmt"

	"pylon/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root pylon command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pylon",
		Short:         "Session monitor for concurrent coding-agent transcripts",
		Long:          "pylon watches a transcript store of coding-agent sessions and produces\na live operational picture: per-agent risk, cross-session file collisions,\nand an aggregated feed, optionally relayed to remote targets.",
		Version:       fmt.Sprintf("pylon %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newProjectsCmd(),
		newSessionsCmd(),
		newRelayCmd(),
		newLogsCmd(),
	)

	return cmd
}
