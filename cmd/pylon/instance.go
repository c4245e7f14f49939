package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// loadInstanceID returns this pylon's stable instance identifier, generating
// and persisting one on first use. Relay targets see the same pylonId across
// restarts.
func loadInstanceID(pylonHome string) (string, error) {
	path := filepath.Join(pylonHome, "instance_id")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read instance id %s: %w", path, err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write instance id %s: %w", path, err)
	}
	return id, nil
}
