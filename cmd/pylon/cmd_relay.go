package main

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"pylon/pkg/relay"

	"github.com/spf13/cobra"
)

// newRelayCmd creates the "pylon relay" command group.
func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Manage remote relay targets",
		Long:  "Relay targets receive a filtered, allow-list-scoped view of the dashboard\nstate over a persistent connection. Targets are provisioned from a\nconnect link and persist across daemon restarts.",
	}

	cmd.AddCommand(
		newRelayAddCmd(),
		newRelayRemoveCmd(),
		newRelayListCmd(),
		newRelayAllowCmd(),
		newRelayDenyCmd(),
	)

	return cmd
}

// withRelayStore opens the state database and hands a ready store to fn.
func withRelayStore(fn func(cmd *cobra.Command, store *relay.Store, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		paths, err := ResolvePaths()
		if err != nil {
			return fmt.Errorf("resolve paths: %w", err)
		}
		if err := ensurePylonHome(paths); err != nil {
			return err
		}
		db, err := openDB(paths.StateDBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		store, err := relay.NewStore(db)
		if err != nil {
			return err
		}
		return fn(cmd, store, db)
	}
}

// newRelayAddCmd creates "pylon relay add <connect-link>".
func newRelayAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <connect-link>",
		Short: "Provision a relay target from a connect link",
		Long:  "Parses the connect link, redeems its one-time code for long-lived\ncredentials, and persists the target. The code is spent on first use:\na failed exchange requires a fresh link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := relay.ParseConnectLink(args[0])
			if err != nil {
				return err
			}
			creds, err := relay.NewExchanger().Exchange(cmd.Context(), link)
			if err != nil {
				return err
			}

			return withRelayStore(func(cmd *cobra.Command, store *relay.Store, db *sql.DB) error {
				err := store.Add(cmd.Context(), relay.Target{
					ID:           link.TargetID,
					Name:         link.Name,
					Endpoint:     link.Endpoint,
					Token:        creds.Token,
					RefreshToken: creds.RefreshToken,
				})
				if err != nil {
					return err
				}
				_ = logEvent(db, "relay_target_added", link.TargetID, link.Endpoint)
				fmt.Fprintf(cmd.OutOrStdout(), "added relay target %s (%s)\n", link.TargetID, link.Endpoint)
				fmt.Fprintln(cmd.OutOrStdout(), "no projects are shared yet; use 'pylon relay allow' to share one")
				return nil
			})(cmd, args)
		},
	}
}

// newRelayRemoveCmd creates "pylon relay remove <target-id>".
func newRelayRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <target-id>",
		Short: "Remove a relay target",
		Args:  cobra.ExactArgs(1),
		RunE: withRelayStore(func(cmd *cobra.Command, store *relay.Store, db *sql.DB) error {
			id := cmd.Flags().Args()[0]
			if err := store.Remove(cmd.Context(), id); err != nil {
				return err
			}
			_ = logEvent(db, "relay_target_removed", id, "")
			fmt.Fprintf(cmd.OutOrStdout(), "removed relay target %s\n", id)
			return nil
		}),
	}
}

// newRelayListCmd creates "pylon relay list".
func newRelayListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured relay targets",
		RunE: withRelayStore(func(cmd *cobra.Command, store *relay.Store, _ *sql.DB) error {
			targets, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(targets) == 0 {
				fmt.Fprintln(w, "no relay targets configured")
				return nil
			}
			for _, t := range targets {
				name := t.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Fprintf(w, "%s  %s  %s\n", t.ID, name, t.Endpoint)
				if len(t.Projects) == 0 {
					fmt.Fprintln(w, "  shares: none")
					continue
				}
				for _, p := range t.Projects {
					fmt.Fprintf(w, "  shares: %s\n", p)
				}
			}
			return nil
		}),
	}
}

// newRelayAllowCmd creates "pylon relay allow <target-id> <project-path>".
func newRelayAllowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allow <target-id> <project-path>",
		Short: "Share a project with a relay target",
		Args:  cobra.ExactArgs(2),
		RunE: withRelayStore(func(cmd *cobra.Command, store *relay.Store, db *sql.DB) error {
			args := cmd.Flags().Args()
			project, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}
			if err := store.AllowProject(cmd.Context(), args[0], project); err != nil {
				return err
			}
			_ = logEvent(db, "relay_project_allowed", args[0], project)
			fmt.Fprintf(cmd.OutOrStdout(), "sharing %s with %s\n", project, args[0])
			return nil
		}),
	}
}

// newRelayDenyCmd creates "pylon relay deny <target-id> <project-path>".
func newRelayDenyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deny <target-id> <project-path>",
		Short: "Stop sharing a project with a relay target",
		Args:  cobra.ExactArgs(2),
		RunE: withRelayStore(func(cmd *cobra.Command, store *relay.Store, db *sql.DB) error {
			args := cmd.Flags().Args()
			project, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}
			if err := store.DenyProject(cmd.Context(), args[0], project); err != nil {
				return err
			}
			_ = logEvent(db, "relay_project_denied", args[0], project)
			fmt.Fprintf(cmd.OutOrStdout(), "stopped sharing %s with %s\n", project, args[0])
			return nil
		}),
	}
}
