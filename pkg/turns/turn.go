// Package turns groups a session's parsed events into discrete turns, one
// human instruction plus everything the agent did in response, and
// classifies each turn's intent. Turns partition the event sequence: every
// event belongs to exactly one turn and turn order equals event order.
package turns

import (
	"time"

	"pylon/pkg/transcript"
)

// Intent is the classified category of a turn's human instruction.
type Intent string

// Intent constants, in classification priority order.
const (
	IntentTask         Intent = "task"
	IntentQuestion     Intent = "question"
	IntentFeedback     Intent = "feedback"
	IntentCommand      Intent = "command"
	IntentContinuation Intent = "continuation"
	IntentInterruption Intent = "interruption"
	IntentContext      Intent = "context"
	IntentSystem       Intent = "system"
	IntentConversation Intent = "conversation"
)

// Sections are the semantic sub-parts extracted from a turn. Every field
// degrades to its zero value when the turn has nothing to offer; extraction
// never fails a turn.
type Sections struct {
	Goal        string
	Approach    string
	Decisions   []string
	Research    []string
	Actions     []string
	Corrections []string
	Artifacts   []string
	Escalations []string
}

// ToolInvocation is one tool call reduced to the pair that matters for
// repetition analysis: the tool name and what it was aimed at (a file path,
// or a normalized command for shell calls).
type ToolInvocation struct {
	Tool   string
	Target string
}

// TurnNode is one segmented turn.
type TurnNode struct {
	Index     int
	Intent    Intent
	HumanText string
	Sections  Sections

	ToolCounts   map[string]int
	FilesRead    []string
	FilesChanged []string
	// EditCounts tracks how many write-tool invocations hit each file.
	EditCounts map[string]int
	// Invocations lists every (tool, target) pair in call order.
	Invocations []ToolInvocation
	Commands    []string

	Committed      bool
	CommitMessage  string
	ErrorCount     int
	Compacted      bool
	CompactionText string

	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	// LastContextTokens is the full token footprint of the turn's most
	// recent model call, used for context-window pressure.
	LastContextTokens int64
	Model             string

	StartLine int
	EndLine   int
	StartTime time.Time
	EndTime   time.Time

	// EventStart/EventEnd delimit the half-open range [EventStart, EventEnd)
	// of the source event slice covered by this turn.
	EventStart int
	EventEnd   int

	Events []transcript.SessionEvent
}

// HasError reports whether any tool call in the turn failed.
func (t *TurnNode) HasError() bool { return t.ErrorCount > 0 }

// IsCorrection reports whether the turn is the user steering the agent back
// after bad output.
func (t *TurnNode) IsCorrection() bool {
	return t.Intent == IntentFeedback || t.Intent == IntentInterruption
}

// TotalTokens is the turn's aggregate token usage across all calls.
func (t *TurnNode) TotalTokens() int64 {
	return t.InputTokens + t.OutputTokens + t.CacheReadTokens + t.CacheCreationTokens
}
