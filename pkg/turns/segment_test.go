package turns

import (
	"testing"

	"pylon/pkg/transcript"
)

// --- Event builders ---

func humanEvent(text string) transcript.SessionEvent {
	return transcript.SessionEvent{
		Kind:   transcript.KindUser,
		Role:   "user",
		Blocks: []transcript.ContentBlock{{Type: transcript.BlockText, Text: text}},
	}
}

func agentText(text string) transcript.SessionEvent {
	return transcript.SessionEvent{
		Kind:   transcript.KindAssistant,
		Role:   "assistant",
		Blocks: []transcript.ContentBlock{{Type: transcript.BlockText, Text: text}},
	}
}

func agentTool(name string, input map[string]any) transcript.SessionEvent {
	return transcript.SessionEvent{
		Kind: transcript.KindAssistant,
		Role: "assistant",
		Blocks: []transcript.ContentBlock{
			{Type: transcript.BlockToolUse, ToolName: name, ToolInput: input},
		},
	}
}

func toolResult(isError bool) transcript.SessionEvent {
	return transcript.SessionEvent{
		Kind: transcript.KindUser,
		Role: "user",
		Blocks: []transcript.ContentBlock{
			{Type: transcript.BlockToolResult, IsError: isError},
		},
	}
}

func TestSegmentPartitionsEvents(t *testing.T) {
	t.Parallel()

	events := []transcript.SessionEvent{
		humanEvent("fix the parser"),
		agentTool("Read", map[string]any{"file_path": "parser.go"}),
		toolResult(false),
		agentText("Done."),
		humanEvent("now add tests"),
		agentTool("Write", map[string]any{"file_path": "parser_test.go"}),
		toolResult(false),
	}
	got := Segment(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}

	// Turns must partition the sequence: contiguous, no gaps, no overlaps.
	next := 0
	for _, turn := range got {
		if turn.EventStart != next {
			t.Errorf("turn %d starts at %d, want %d", turn.Index, turn.EventStart, next)
		}
		if turn.EventEnd <= turn.EventStart {
			t.Errorf("turn %d has empty range", turn.Index)
		}
		next = turn.EventEnd
	}
	if next != len(events) {
		t.Errorf("turns cover %d events, want %d", next, len(events))
	}

	if got[0].FilesRead[0] != "parser.go" {
		t.Errorf("first turn files read = %v", got[0].FilesRead)
	}
	if got[1].FilesChanged[0] != "parser_test.go" {
		t.Errorf("second turn files changed = %v", got[1].FilesChanged)
	}
}

func TestSegmentContinuationAckAbsorbed(t *testing.T) {
	t.Parallel()

	events := []transcript.SessionEvent{
		humanEvent("implement retry logic"),
		agentText("Partway there."),
		humanEvent("continue"),
		agentText("Finished."),
	}
	got := Segment(events)
	if len(got) != 1 {
		t.Fatalf("continuation ack must not start a turn; got %d turns", len(got))
	}
	if got[0].EventEnd != 4 {
		t.Errorf("turn should span all events, ends at %d", got[0].EventEnd)
	}
}

func TestSegmentNoHumanMessages(t *testing.T) {
	t.Parallel()

	events := []transcript.SessionEvent{
		agentText("resuming"),
		agentTool("Bash", map[string]any{"command": "go test ./..."}),
		toolResult(false),
	}
	got := Segment(events)
	if len(got) != 1 {
		t.Fatalf("expected single implicit turn, got %d", len(got))
	}
	if got[0].HumanText != "" {
		t.Errorf("implicit turn has human text %q", got[0].HumanText)
	}
}

func TestSegmentEmpty(t *testing.T) {
	t.Parallel()

	if got := Segment(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestTurnAccounting(t *testing.T) {
	t.Parallel()

	usage := &transcript.Usage{InputTokens: 1000, OutputTokens: 50, CacheReadTokens: 200}
	events := []transcript.SessionEvent{
		humanEvent("fix the bug and commit"),
		agentTool("Edit", map[string]any{"file_path": "auth.go"}),
		toolResult(true),
		agentTool("Edit", map[string]any{"file_path": "auth.go"}),
		toolResult(false),
		{
			Kind:  transcript.KindAssistant,
			Model: "claude-sonnet-4-5",
			Usage: usage,
			Blocks: []transcript.ContentBlock{
				{Type: transcript.BlockToolUse, ToolName: "Bash", ToolInput: map[string]any{"command": `git commit -m "fix auth"`}},
			},
		},
		toolResult(false),
	}
	got := Segment(events)
	if len(got) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(got))
	}
	turn := got[0]
	if turn.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", turn.ErrorCount)
	}
	if !turn.Committed || turn.CommitMessage != "fix auth" {
		t.Errorf("commit = %v %q", turn.Committed, turn.CommitMessage)
	}
	if turn.ToolCounts["Edit"] != 2 {
		t.Errorf("edit count = %d", turn.ToolCounts["Edit"])
	}
	if len(turn.FilesChanged) != 1 || turn.FilesChanged[0] != "auth.go" {
		t.Errorf("files changed = %v", turn.FilesChanged)
	}
	if turn.LastContextTokens != 1200 {
		t.Errorf("last context tokens = %d, want 1200", turn.LastContextTokens)
	}
	if turn.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", turn.Model)
	}
}

func TestTurnCompaction(t *testing.T) {
	t.Parallel()

	events := []transcript.SessionEvent{
		{Kind: transcript.KindSummary, Summary: "earlier context"},
		humanEvent("keep working on the migration"),
		agentText("On it."),
	}
	got := Segment(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if !got[0].Compacted || got[0].CompactionText != "earlier context" {
		t.Errorf("compaction turn = %+v", got[0])
	}
	if got[1].Compacted {
		t.Error("second turn should not inherit compaction")
	}
}
