package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"pylon/pkg/dashboard"

	"github.com/spf13/cobra"
)

// sessionsConfig holds configuration for the sessions command.
type sessionsConfig struct {
	activeOnly bool
}

// newSessionsCmd creates the "pylon sessions" subcommand.
func newSessionsCmd() *cobra.Command {
	var cfg sessionsConfig

	cmd := &cobra.Command{
		Use:   "sessions [project-path]",
		Short: "List sessions, optionally scoped to one project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project string
			if len(args) == 1 {
				project = args[0]
			}

			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			appCfg, err := LoadConfig(paths.ConfigPath)
			if err != nil {
				return err
			}
			root := paths.TranscriptRoot
			if appCfg.TranscriptRoot != "" {
				root = appCfg.TranscriptRoot
			}

			loader := dashboard.NewLoader(root)
			sessions, err := loader.Load(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("load sessions: %w", err)
			}

			w := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tPROJECT\tACTIVE\tTURNS\tRISK\tMODIFIED")
			shown := 0
			for i := range sessions {
				st := &sessions[i]
				if project != "" && st.Session.ProjectPath != project {
					continue
				}
				if cfg.activeOnly && !st.Session.Active {
					continue
				}
				level := ""
				if st.Risk != nil {
					level = string(st.Risk.Level)
				}
				fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%s\t%s\n",
					st.Session.ID, st.Session.ProjectName, st.Session.Active,
					len(st.Turns), level, st.Session.ModifiedAt.Format(time.RFC3339))
				shown++
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if shown == 0 {
				fmt.Fprintln(w, "no sessions found")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cfg.activeOnly, "active", false, "only show recently active sessions")

	return cmd
}
