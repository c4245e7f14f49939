package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// eventsSchema is the daemon's operational event log.
const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	target     TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// openDB opens a SQLite database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout. It also calls
// db.PingContext to verify the connection is usable before returning.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

// initEventLog creates the events table.
func initEventLog(db *sql.DB) error {
	if _, err := db.ExecContext(context.Background(), eventsSchema); err != nil {
		return fmt.Errorf("init event log: %w", err)
	}
	return nil
}

// logEvent inserts one operational event. Best-effort at every call site:
// event logging never fails the operation being logged.
func logEvent(db *sql.DB, evType, target, payload string) error {
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO events (type, target, payload) VALUES (?, ?, ?)`,
		evType, target, payload)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}
