package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail   int
	follow bool
}

// newLogsCmd creates the "pylon logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [event-type]",
		Short: "Query and tail the daemon event log",
		Long:  "Displays operational events recorded by the daemon (relay lifecycle,\nwatcher errors, start/stop). Optionally filter by event type and follow\nnew events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var evType string
			if len(args) == 1 {
				evType = args[0]
			}

			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			db, err := openDB(paths.StateDBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(cmd.Context(), db, w, evType, cfg.tail)
			}
			return printLogs(cmd.Context(), db, w, evType, cfg.tail)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")

	return cmd
}

// logRow is a row from the events table.
type logRow struct {
	ID        int
	Type      string
	Target    string
	Payload   string
	CreatedAt string
}

// printLogs queries and displays the last N events.
func printLogs(ctx context.Context, db *sql.DB, w io.Writer, evType string, tail int) error {
	events, err := queryEvents(ctx, db, evType, tail, "")
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}
	for _, evt := range events {
		formatEvent(w, &evt)
	}
	return nil
}

// followLogs continuously polls for new events and displays them.
func followLogs(ctx context.Context, db *sql.DB, w io.Writer, evType string, tail int) error {
	events, err := queryEvents(ctx, db, evType, tail, "")
	if err != nil {
		return err
	}

	var lastTimestamp string
	for _, evt := range events {
		formatEvent(w, &evt)
		lastTimestamp = evt.CreatedAt
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			newEvents, err := queryEvents(ctx, db, evType, 100, lastTimestamp)
			if err != nil {
				return err
			}
			for _, evt := range newEvents {
				formatEvent(w, &evt)
				lastTimestamp = evt.CreatedAt
			}
		}
	}
}

// queryEvents retrieves events from the database. If sinceTimestamp is
// non-empty, only newer events are returned in ascending order; otherwise
// the last 'limit' events in chronological order.
func queryEvents(ctx context.Context, db *sql.DB, evType string, limit int, sinceTimestamp string) ([]logRow, error) {
	query, args := buildEventQuery(evType, limit, sinceTimestamp)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []logRow
	for rows.Next() {
		var evt logRow
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.Target, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if sinceTimestamp == "" {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}

// buildEventQuery constructs the SQL query and args based on filters.
func buildEventQuery(evType string, limit int, sinceTimestamp string) (string, []any) {
	if sinceTimestamp != "" {
		if evType != "" {
			return `SELECT id, type, target, payload, created_at FROM events
				WHERE created_at > ? AND type = ? ORDER BY created_at ASC LIMIT ?`,
				[]any{sinceTimestamp, evType, limit}
		}
		return `SELECT id, type, target, payload, created_at FROM events
			WHERE created_at > ? ORDER BY created_at ASC LIMIT ?`,
			[]any{sinceTimestamp, limit}
	}
	if evType != "" {
		return `SELECT id, type, target, payload, created_at FROM events
			WHERE type = ? ORDER BY id DESC LIMIT ?`,
			[]any{evType, limit}
	}
	return `SELECT id, type, target, payload, created_at FROM events
		ORDER BY id DESC LIMIT ?`,
		[]any{limit}
}

// formatEvent writes one event line.
func formatEvent(w io.Writer, evt *logRow) {
	line := fmt.Sprintf("[%s] %s", evt.CreatedAt, evt.Type)
	if evt.Target != "" {
		line += " " + evt.Target
	}
	if evt.Payload != "" {
		line += ": " + evt.Payload
	}
	fmt.Fprintln(w, line)
}
