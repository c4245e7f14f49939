package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// maxLineBytes bounds a single transcript line. Tool results with embedded
// file contents can run to megabytes.
const maxLineBytes = 10 * 1024 * 1024

// ParseResult is the outcome of reading one transcript. Skipped carries the
// 1-based line numbers of records that failed to parse; callers decide
// whether to log or ignore them.
type ParseResult struct {
	Events  []SessionEvent
	Skipped []int
}

// rawRecord mirrors the JSONL wire shape of a transcript record.
type rawRecord struct {
	Type             string          `json:"type"`
	UUID             string          `json:"uuid"`
	Timestamp        string          `json:"timestamp"`
	CWD              string          `json:"cwd"`
	GitBranch        string          `json:"gitBranch"`
	IsSidechain      bool            `json:"isSidechain"`
	IsMeta           bool            `json:"isMeta"`
	IsCompactSummary bool            `json:"isCompactSummary"`
	Summary          string          `json:"summary"`
	Message          *rawMessage     `json:"message"`
	ToolUseResult    json.RawMessage `json:"toolUseResult"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *Usage          `json:"usage"`
}

// rawBlock is one element of a structured content array.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// ParseFile reads the transcript at path. Individual records that fail to
// parse are skipped and reported in the result, never fatal: transcripts
// are append-only and the last line may be mid-write.
func ParseFile(path string) (*ParseResult, error) {
	f, err := os.Open(path) //nolint:gosec // transcript paths come from directory discovery, not user input
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads line-delimited transcript records from r.
func Parse(r io.Reader) (*ParseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	result := &ParseResult{}
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		ev, ok := parseRecord(raw, line)
		if !ok {
			result.Skipped = append(result.Skipped, line)
			continue
		}
		result.Events = append(result.Events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return result, nil
}

// parseRecord converts one JSONL line into a SessionEvent. Returns ok=false
// for anything that does not decode into a recognizable record.
func parseRecord(raw []byte, line int) (SessionEvent, bool) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SessionEvent{}, false
	}
	if rec.Type == "" {
		return SessionEvent{}, false
	}

	ev := SessionEvent{
		Kind:             EventKind(rec.Type),
		UUID:             rec.UUID,
		CWD:              rec.CWD,
		GitBranch:        rec.GitBranch,
		IsSidechain:      rec.IsSidechain,
		IsMeta:           rec.IsMeta,
		IsCompactSummary: rec.IsCompactSummary,
		Summary:          rec.Summary,
		Line:             line,
	}
	if rec.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}
	if rec.Message != nil {
		ev.Role = rec.Message.Role
		ev.Model = rec.Message.Model
		ev.Usage = rec.Message.Usage
		ev.Blocks = parseContent(rec.Message.Content)
	}
	return ev, true
}

// parseContent handles both content shapes: a bare string (plain user
// messages) and an array of structured blocks.
func parseContent(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil
		}
		return []ContentBlock{{Type: BlockText, Text: text}}
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		cb := ContentBlock{Type: b.Type}
		switch b.Type {
		case BlockText:
			cb.Text = b.Text
		case BlockThinking:
			cb.Text = b.Thinking
		case BlockToolUse:
			cb.ToolName = b.Name
			cb.ToolID = b.ID
			cb.ToolInput = b.Input
		case BlockToolResult:
			cb.ToolUseID = b.ToolUseID
			cb.IsError = b.IsError
			cb.Text = flattenResultContent(b.Content)
		default:
			continue
		}
		out = append(out, cb)
	}
	return out
}

// flattenResultContent extracts readable text from a tool_result content
// field, which may be a string or a nested block array.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	out := ""
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
