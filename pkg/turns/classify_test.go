package turns

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pylon/pkg/transcript"
)

func turnWithText(text string) *TurnNode {
	ev := humanEvent(text)
	return &TurnNode{
		HumanText: text,
		Events:    []transcript.SessionEvent{ev},
	}
}

func TestClassifyPriorityLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want Intent
	}{
		{"task verb", "fix the failing integration test", IntentTask},
		{"polite task verb", "please add a retry wrapper", IntentTask},
		{"question mark", "is the cache still enabled?", IntentQuestion},
		{"interrogative opener", "why does the build fail on linux", IntentQuestion},
		{"feedback", "no, that's wrong - the config lives in etc", IntentFeedback},
		{"slash command", "/compact", IntentCommand},
		{"command tag", "<command-name>clear</command-name>", IntentCommand},
		{"continuation", "go ahead", IntentContinuation},
		{"interruption", "[Request interrupted by user]", IntentInterruption},
		{"pasted context", "here are the logs\n" + strings.Repeat("E1234 stacktrace line\n", 200), IntentContext},
		{"conversation", "nice work on that last change, the diff reads well", IntentConversation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(turnWithText(tt.text)); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text[:min(40, len(tt.text))], got, tt.want)
			}
		})
	}
}

func TestClassifyTaskBeatsQuestion(t *testing.T) {
	t.Parallel()

	// Carries both a task verb and a trailing question mark; the ladder
	// resolves ties toward task.
	got := Classify(turnWithText("fix the flaky test, ok?"))
	if got != IntentTask {
		t.Errorf("got %q, want task", got)
	}
}

func TestClassifySystemTurn(t *testing.T) {
	t.Parallel()

	turn := &TurnNode{
		Events: []transcript.SessionEvent{{Kind: transcript.KindSystem}},
	}
	if got := Classify(turn); got != IntentSystem {
		t.Errorf("got %q, want system", got)
	}
}

func TestExtractSections(t *testing.T) {
	t.Parallel()

	events := []transcript.SessionEvent{
		humanEvent("fix the session timeout. It logs users out too early."),
		agentTool("Grep", map[string]any{"pattern": "timeout"}),
		toolResult(false),
		agentTool("Read", map[string]any{"file_path": "session.go"}),
		toolResult(false),
		agentText("I decided to extend the sliding window instead of a fixed TTL. Fixed the expiry check."),
		agentTool("Edit", map[string]any{"file_path": "session.go"}),
		toolResult(false),
	}
	turn := Segment(events)[0]
	sec := turn.Sections

	if sec.Goal != "fix the session timeout." {
		t.Errorf("goal = %q", sec.Goal)
	}
	if len(sec.Decisions) != 1 {
		t.Errorf("decisions = %v", sec.Decisions)
	}
	if len(sec.Corrections) != 1 {
		t.Errorf("corrections = %v", sec.Corrections)
	}
	if len(sec.Artifacts) != 1 || sec.Artifacts[0] != "session.go" {
		t.Errorf("artifacts = %v", sec.Artifacts)
	}
	foundRead, foundSearch := false, false
	for _, r := range sec.Research {
		if strings.Contains(r, "session.go") {
			foundRead = true
		}
		if strings.Contains(r, "timeout") {
			foundSearch = true
		}
	}
	if !foundRead || !foundSearch {
		t.Errorf("research = %v", sec.Research)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short ascii untouched", "ls -la", 80, "ls -la"},
		{"ascii cut", "abcdefgh", 5, "abcd…"},
		{"cut lands mid rune", "ab日本語", 6, "ab日…"},
		{"multibyte ellipsis source", "héllo wörld", 7, "héllo…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8: %q", tt.in, tt.n, got)
			}
		})
	}
}

func TestExtractSectionsEmptyTurn(t *testing.T) {
	t.Parallel()

	turn := Segment([]transcript.SessionEvent{agentText("")})[0]
	sec := turn.Sections
	if sec.Goal != "" || sec.Approach != "" || len(sec.Actions) != 0 {
		t.Errorf("empty turn should yield empty sections: %+v", sec)
	}
}
