package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pylon/pkg/dashboard"
	"pylon/pkg/transcript"
)

const serverTestTranscript = `{"type":"user","uuid":"u1","timestamp":"2026-08-01T10:00:00Z","cwd":"/tmp/proj","message":{"role":"user","content":"add request logging"}}
{"type":"assistant","uuid":"a1","timestamp":"2026-08-01T10:00:05Z","message":{"role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"Done."}],"usage":{"input_tokens":900,"output_tokens":40}}}
`

// newTestServer builds a server over a throwaway transcript root holding one
// session for /tmp/proj.
func newTestServer(t *testing.T) *server {
	t.Helper()
	root := t.TempDir()
	projDir := filepath.Join(root, "-tmp-proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(projDir, "11111111-aaaa-bbbb-cccc-000000000001.jsonl")
	if err := os.WriteFile(path, []byte(serverTestTranscript), 0o600); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return &server{
		loader: dashboard.NewLoader(root),
		agg:    dashboard.Aggregator{Operator: "ada"},
	}
}

func TestHandleState(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	srv.handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var state dashboard.DashboardState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Summary.AgentCount != 1 {
		t.Errorf("agent count = %d, want 1", state.Summary.AgentCount)
	}
	if len(state.Agents) != 1 || state.Agents[0].ProjectPath != "/tmp/proj" {
		t.Errorf("agents = %+v", state.Agents)
	}
}

func TestHandleProjects(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	srv.handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var projects []projectInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &projects); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(projects) != 1 || projects[0].Path != "/tmp/proj" || projects[0].SessionCount != 1 {
		t.Errorf("projects = %+v", projects)
	}
}

func TestHandleSessionsFilterByProject(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions?project=/tmp/other", nil)
	srv.handler().ServeHTTP(rec, req)

	var sessions []sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions = %+v, want none for unknown project", sessions)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/sessions?project=/tmp/proj", nil)
	srv.handler().ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].TurnCount != 1 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestHandleSessionDetailNotFound(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/no-such-id", nil)
	srv.handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProjectsOfGroupsSessions(t *testing.T) {
	t.Parallel()

	sessions := []dashboard.SessionState{
		{Session: transcript.Session{ID: "s1", ProjectPath: "/a", ProjectName: "a", Active: true}},
		{Session: transcript.Session{ID: "s2", ProjectPath: "/a", ProjectName: "a"}},
		{Session: transcript.Session{ID: "s3", ProjectPath: "/b", ProjectName: "b"}},
	}
	projects := projectsOf(sessions)
	if len(projects) != 2 {
		t.Fatalf("projects = %+v", projects)
	}
	if projects[0].SessionCount != 2 || projects[0].ActiveCount != 1 {
		t.Errorf("first project = %+v", projects[0])
	}
}
