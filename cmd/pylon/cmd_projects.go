package main

import (
	"fmt"
	"time"

	"pylon/pkg/transcript"

	"github.com/spf13/cobra"
)

// newProjectsCmd creates the "pylon projects" subcommand.
func newProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects found in the transcript store",
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

			sessions, err := transcript.DiscoverSessions(root, time.Now())
			if err != nil {
				return fmt.Errorf("discover sessions: %w", err)
			}

			w := cmd.OutOrStdout()
			counts := map[string]int{}
			active := map[string]int{}
			var order []string
			names := map[string]string{}
			for _, s := range sessions {
				if _, seen := counts[s.ProjectPath]; !seen {
					order = append(order, s.ProjectPath)
					names[s.ProjectPath] = s.ProjectName
				}
				counts[s.ProjectPath]++
				if s.Active {
					active[s.ProjectPath]++
				}
			}
			if len(order) == 0 {
				fmt.Fprintln(w, "no projects found")
				return nil
			}
			for _, p := range order {
				fmt.Fprintf(w, "%s  %s  (%d sessions, %d active)\n", names[p], p, counts[p], active[p])
			}
			return nil
		},
	}
}
