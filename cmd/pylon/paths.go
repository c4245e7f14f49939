package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved pylon state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	PylonHome      string // ~/.pylon or PYLON_HOME
	PIDPath        string // pylon.pid or PYLON_PID_PATH
	StateDBPath    string // state.db or PYLON_DB_PATH
	ConfigPath     string // config.yaml or PYLON_CONFIG
	TranscriptRoot string // ~/.claude/projects or PYLON_TRANSCRIPT_ROOT
}

// ResolvePaths returns all pylon paths, respecting env var overrides.
// Environment variables:
//   - PYLON_HOME: base directory for all pylon state (default: ~/.pylon)
//   - PYLON_PID_PATH: daemon PID file (default: $PYLON_HOME/pylon.pid)
//   - PYLON_DB_PATH: state database (default: $PYLON_HOME/state.db)
//   - PYLON_CONFIG: config file (default: $PYLON_HOME/config.yaml)
//   - PYLON_TRANSCRIPT_ROOT: transcript store (default: ~/.claude/projects)
//
// If PYLON_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the PYLON_HOME base.
func ResolvePaths() (*Paths, error) {
	pylonHome, err := resolvePylonHome()
	if err != nil {
		return nil, err
	}

	transcriptRoot := os.Getenv("PYLON_TRANSCRIPT_ROOT")
	if transcriptRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		transcriptRoot = filepath.Join(home, ".claude", "projects")
	}

	return &Paths{
		PylonHome:      pylonHome,
		PIDPath:        resolvePathWithEnv("PYLON_PID_PATH", pylonHome, "pylon.pid"),
		StateDBPath:    resolvePathWithEnv("PYLON_DB_PATH", pylonHome, "state.db"),
		ConfigPath:     resolvePathWithEnv("PYLON_CONFIG", pylonHome, "config.yaml"),
		TranscriptRoot: transcriptRoot,
	}, nil
}

// resolvePylonHome returns the pylon home directory from PYLON_HOME or ~/.pylon.
func resolvePylonHome() (string, error) {
	if v := os.Getenv("PYLON_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".pylon"), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

// ensurePylonHome creates the pylon home directory if needed.
func ensurePylonHome(paths *Paths) error {
	if err := os.MkdirAll(paths.PylonHome, 0o700); err != nil {
		return fmt.Errorf("create pylon home %s: %w", paths.PylonHome, err)
	}
	return nil
}
