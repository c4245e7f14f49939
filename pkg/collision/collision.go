// Package collision cross-references file modifications across all parsed
// sessions to find concurrent-edit conflicts. Results are a point-in-time
// view, recomputed from scratch each pipeline tick, never a persisted
// ledger.
package collision

import (
	"path/filepath"
	"sort"
	"time"
)

// Severity of a detected collision.
type Severity string

// Severity constants. Within one project a collision is a warning; across
// projects or operators it is critical.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// FileTouch records one session's modification of one file.
type FileTouch struct {
	SessionID  string
	Project    string // session's project root
	Operator   string // empty when operator identity is not tracked
	Path       string // as recorded in the transcript; may be relative
	LastAction string // human-readable description of the latest edit
	Time       time.Time
}

// Participant is one session's involvement in a collision.
type Participant struct {
	SessionID  string
	Project    string
	Operator   string
	LastAction string
}

// Collision is ≥2 distinct sessions touching the same normalized path.
// Identity derives from the path.
type Collision struct {
	Path         string
	Severity     Severity
	Participants []Participant
	DetectedAt   time.Time
}

// NormalizePath resolves a recorded path against the session's project root.
// Absolute paths resolve as-is; relative paths are joined to the project.
func NormalizePath(path, project string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(project, path)
}

// Detect groups touches by normalized path and reports every path modified
// by two or more distinct sessions, critical-first then by path.
func Detect(touches []FileTouch, now time.Time) []Collision {
	byPath := map[string]map[string]FileTouch{} // path -> session -> latest touch
	for _, touch := range touches {
		norm := NormalizePath(touch.Path, touch.Project)
		sessions, ok := byPath[norm]
		if !ok {
			sessions = map[string]FileTouch{}
			byPath[norm] = sessions
		}
		if prev, seen := sessions[touch.SessionID]; !seen || touch.Time.After(prev.Time) {
			sessions[touch.SessionID] = touch
		}
	}

	var out []Collision
	for path, sessions := range byPath {
		if len(sessions) < 2 {
			continue
		}
		out = append(out, buildCollision(path, sessions, now))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity == SeverityCritical
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// buildCollision assembles one collision and grades its severity.
func buildCollision(path string, sessions map[string]FileTouch, now time.Time) Collision {
	participants := make([]Participant, 0, len(sessions))
	projects := map[string]bool{}
	operators := map[string]bool{}
	for _, touch := range sessions {
		participants = append(participants, Participant{
			SessionID:  touch.SessionID,
			Project:    touch.Project,
			Operator:   touch.Operator,
			LastAction: touch.LastAction,
		})
		projects[touch.Project] = true
		if touch.Operator != "" {
			operators[touch.Operator] = true
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].SessionID < participants[j].SessionID
	})

	severity := SeverityWarning
	if len(projects) > 1 || len(operators) > 1 {
		severity = SeverityCritical
	}
	return Collision{
		Path:         path,
		Severity:     severity,
		Participants: participants,
		DetectedAt:   now,
	}
}
