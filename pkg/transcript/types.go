// Package transcript reads append-only agent session transcripts (one JSON
// record per line) into typed, ordered event sequences. Transcripts may be
// read while still being written: a trailing partial record is skipped, never
// fatal. The parser has no side effects beyond the read.
package transcript

import (
	"strings"
	"time"
)

// EventKind classifies a transcript record.
type EventKind string

// Event kind constants. These mirror the `type` field of the JSONL records.
const (
	KindUser      EventKind = "user"
	KindAssistant EventKind = "assistant"
	KindSystem    EventKind = "system"
	KindSummary   EventKind = "summary"
)

// Block type constants for content blocks inside a message.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// ContentBlock is one structured piece of a message: text, a tool
// invocation, a tool result, or reasoning.
type ContentBlock struct {
	Type      string
	Text      string
	ToolName  string         // tool_use: tool being invoked
	ToolID    string         // tool_use: invocation id
	ToolInput map[string]any // tool_use: raw input parameters
	ToolUseID string         // tool_result: id of the invocation answered
	IsError   bool           // tool_result: the tool reported failure
}

// Usage holds per-call token accounting from the model API.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
}

// ContextTokens is the token footprint of the call: everything the model had
// to hold, regardless of cache residency.
func (u Usage) ContextTokens() int64 {
	return u.InputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// SessionEvent is one parsed transcript record. Immutable once parsed.
type SessionEvent struct {
	Kind             EventKind
	Role             string // "user" or "assistant" (message records only)
	UUID             string
	Timestamp        time.Time
	CWD              string
	GitBranch        string
	Model            string // model identifier for assistant records
	Blocks           []ContentBlock
	Usage            *Usage
	IsSidechain      bool
	IsMeta           bool   // system-injected user record (hooks, reminders)
	IsCompactSummary bool   // record carries a compaction summary
	Summary          string // summary records: the summary text
	Line             int    // 1-based line offset in the transcript file
}

// Text concatenates the event's text blocks.
func (e *SessionEvent) Text() string {
	var parts []string
	for _, b := range e.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the event's tool invocation blocks.
func (e *SessionEvent) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range e.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// HasToolError reports whether any tool_result block flagged an error.
func (e *SessionEvent) HasToolError() bool {
	for _, b := range e.Blocks {
		if b.Type == BlockToolResult && b.IsError {
			return true
		}
	}
	return false
}

// IsHuman reports whether the event is a human-originated message: a user
// record that is neither a tool-result round-trip nor system-injected meta.
func (e *SessionEvent) IsHuman() bool {
	if e.Kind != KindUser || e.IsMeta || e.IsSidechain {
		return false
	}
	for _, b := range e.Blocks {
		if b.Type == BlockToolResult {
			return false
		}
	}
	return true
}
