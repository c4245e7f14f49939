package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"pylon/pkg/dashboard"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the "pylon status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and the current operational picture",
		Long:  "Displays daemon health, then a one-shot aggregation of all discovered\nsessions: per-agent risk, collisions, and headline numbers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := LoadConfig(paths.ConfigPath)
			if err != nil {
				return err
			}
			root := paths.TranscriptRoot
			if cfg.TranscriptRoot != "" {
				root = cfg.TranscriptRoot
			}

			w := cmd.OutOrStdout()

			status, pid := DaemonStatus(paths.PIDPath)
			switch status {
			case StatusRunning:
				fmt.Fprintf(w, "daemon: running (pid %d)\n", pid)
			case StatusStale:
				fmt.Fprintf(w, "daemon: stale PID file (pid %d is dead)\n", pid)
			default:
				fmt.Fprintln(w, "daemon: stopped")
			}

			loader := dashboard.NewLoader(root)
			sessions, err := loader.Load(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("load sessions: %w", err)
			}
			agg := dashboard.Aggregator{Operator: cfg.Operator}
			state := agg.Aggregate(sessions, time.Now())

			s := state.Summary
			fmt.Fprintf(w, "projects: %d  agents: %d (%d active)  collisions: %d (%d critical)\n",
				s.ProjectCount, s.AgentCount, s.ActiveAgentCount, s.CollisionCount, s.CriticalCollisions)
			fmt.Fprintf(w, "overall risk: %s  total cost: $%.2f\n", s.OverallRisk, s.TotalCostUSD)

			if len(state.Agents) == 0 {
				return nil
			}

			fmt.Fprintln(w)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			if isatty.IsTerminal(os.Stdout.Fd()) {
				fmt.Fprintln(tw, "SESSION\tPROJECT\tSTATUS\tRISK\tERR%\tCTX%\tCOST\tTURNS")
			}
			for _, a := range state.Agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f\t%.0f\t$%.2f\t%d\n",
					shortID(a.SessionID), a.ProjectName, a.Status, a.RiskLevel,
					a.ErrorRate*100, a.ContextUsagePct, a.CostUSD, a.TurnCount)
			}
			return tw.Flush()
		},
	}
}

// shortID abbreviates a session id for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
