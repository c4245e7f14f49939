package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// activeWindow is how recently a transcript must have been written to count
// as an active session.
const activeWindow = 5 * time.Minute

// Session is one discovered transcript on disk. Parsing is deferred: the
// discovery pass only touches file metadata.
type Session struct {
	ID          string    // transcript file name without extension
	ProjectPath string    // decoded project root
	ProjectName string    // display name for the project
	Path        string    // transcript file path
	ModifiedAt  time.Time // last write to the transcript
	Active      bool      // written within the active window
}

// DiscoverSessions walks a transcript store root laid out as
// <root>/<encoded-project-dir>/<session-id>.jsonl and returns all sessions,
// newest first within each project. A missing root yields an empty slice;
// no transcripts is a normal state, not an error.
func DiscoverSessions(root string, now time.Time) ([]Session, error) {
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript root %s: %w", root, err)
	}

	var sessions []Session
	for _, dir := range projectDirs {
		if !dir.IsDir() {
			continue
		}
		projectPath := DecodeProjectDir(dir.Name())
		projectName := ProjectDisplayName(projectPath)

		entries, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			sessions = append(sessions, Session{
				ID:          strings.TrimSuffix(entry.Name(), ".jsonl"),
				ProjectPath: projectPath,
				ProjectName: projectName,
				Path:        filepath.Join(root, dir.Name(), entry.Name()),
				ModifiedAt:  info.ModTime(),
				Active:      now.Sub(info.ModTime()) < activeWindow,
			})
		}
	}
	return sessions, nil
}

// DecodeProjectDir reverses the transcript store's directory encoding, which
// replaces every path separator with a dash: "-Users-ada-code-proj" becomes
// "/Users/ada/code/proj". The encoding is lossy for paths whose components
// contain literal dashes; those decode to a best-effort path, which is
// acceptable because the decoded value is only used for grouping and display.
func DecodeProjectDir(name string) string {
	if !strings.HasPrefix(name, "-") {
		return name
	}
	return strings.ReplaceAll(name, "-", string(os.PathSeparator))
}

// ProjectDisplayName derives a human-facing project name from manifest files
// at the project root, falling back to the directory base name. Each probe
// is independent; a malformed manifest never fails the lookup.
func ProjectDisplayName(projectPath string) string {
	if name := goModuleName(projectPath); name != "" {
		return name
	}
	if name := packageJSONName(projectPath); name != "" {
		return name
	}
	if name := tomlProjectName(filepath.Join(projectPath, "pyproject.toml"), "project"); name != "" {
		return name
	}
	if name := tomlProjectName(filepath.Join(projectPath, "Cargo.toml"), "package"); name != "" {
		return name
	}
	return filepath.Base(projectPath)
}

// goModuleName reads the module path from go.mod and returns its last element.
func goModuleName(projectPath string) string {
	f, err := os.Open(filepath.Join(projectPath, "go.mod")) //nolint:gosec // path derived from discovery
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "module "); ok {
			modPath := strings.TrimSpace(rest)
			if idx := strings.LastIndex(modPath, "/"); idx >= 0 {
				return modPath[idx+1:]
			}
			return modPath
		}
	}
	return ""
}

func packageJSONName(projectPath string) string {
	data, err := os.ReadFile(filepath.Join(projectPath, "package.json")) //nolint:gosec // path derived from discovery
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.Name
}

// tomlProjectName extracts <section>.name from a TOML manifest
// (pyproject.toml [project], Cargo.toml [package]).
func tomlProjectName(path, section string) string {
	data, err := os.ReadFile(path) //nolint:gosec // path derived from discovery
	if err != nil {
		return ""
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return ""
	}
	sec, ok := doc[section].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := sec["name"].(string)
	return name
}
