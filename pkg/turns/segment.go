package turns

import (
	"sort"
	"strings"

	"pylon/pkg/transcript"
)

// Tool name sets for per-turn accounting. Write tools mutate files; read
// tools only inspect them.
var (
	writeTools = map[string]bool{
		"Edit":         true,
		"Write":        true,
		"MultiEdit":    true,
		"NotebookEdit": true,
	}
	readTools = map[string]bool{
		"Read": true,
	}
)

// Segment partitions events into turns. A new turn begins at each
// human-originated message that is not a bare continuation acknowledgment;
// everything up to the next qualifying human message belongs to that turn.
// A sequence with no qualifying human message yields one implicit turn.
func Segment(events []transcript.SessionEvent) []*TurnNode {
	if len(events) == 0 {
		return nil
	}

	var bounds []int
	for i, ev := range events {
		if ev.IsHuman() && !isContinuationAck(ev.Text()) {
			bounds = append(bounds, i)
		}
	}
	// Events before the first boundary (or all events when there is none)
	// form an implicit leading turn.
	if len(bounds) == 0 || bounds[0] != 0 {
		bounds = append([]int{0}, bounds...)
	}

	turns := make([]*TurnNode, 0, len(bounds))
	for i, start := range bounds {
		end := len(events)
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		turn := buildTurn(i, events, start, end)
		turns = append(turns, turn)
	}
	return turns
}

// buildTurn assembles one TurnNode from the event range [start, end).
func buildTurn(index int, events []transcript.SessionEvent, start, end int) *TurnNode {
	span := events[start:end]
	turn := &TurnNode{
		Index:      index,
		ToolCounts: make(map[string]int),
		EditCounts: make(map[string]int),
		EventStart: start,
		EventEnd:   end,
		Events:     span,
		StartLine:  span[0].Line,
		EndLine:    span[len(span)-1].Line,
	}

	if first := &span[0]; first.IsHuman() {
		turn.HumanText = first.Text()
	}

	filesRead := map[string]bool{}
	filesChanged := map[string]bool{}

	for i := range span {
		ev := &span[i]
		if !ev.Timestamp.IsZero() {
			if turn.StartTime.IsZero() {
				turn.StartTime = ev.Timestamp
			}
			turn.EndTime = ev.Timestamp
		}

		if ev.HasToolError() {
			turn.ErrorCount++
		}
		if ev.Kind == transcript.KindSummary || ev.IsCompactSummary {
			turn.Compacted = true
			if text := ev.Summary; text != "" {
				turn.CompactionText = text
			} else if text := ev.Text(); text != "" {
				turn.CompactionText = text
			}
		}

		if ev.Usage != nil {
			turn.InputTokens += ev.Usage.InputTokens
			turn.OutputTokens += ev.Usage.OutputTokens
			turn.CacheReadTokens += ev.Usage.CacheReadTokens
			turn.CacheCreationTokens += ev.Usage.CacheCreationTokens
			turn.LastContextTokens = ev.Usage.ContextTokens()
		}
		if ev.Model != "" {
			turn.Model = ev.Model
		}

		for _, use := range ev.ToolUses() {
			turn.ToolCounts[use.ToolName]++
			recordToolUse(turn, use, filesRead, filesChanged)
		}
	}

	turn.FilesRead = sortedKeys(filesRead)
	turn.FilesChanged = sortedKeys(filesChanged)
	turn.Intent = Classify(turn)
	turn.Sections = ExtractSections(turn)
	return turn
}

// recordToolUse updates file/command/commit accounting for one invocation.
func recordToolUse(turn *TurnNode, use transcript.ContentBlock, filesRead, filesChanged map[string]bool) {
	path := FilePathArg(use.ToolInput)
	target := path
	switch {
	case writeTools[use.ToolName]:
		if path != "" {
			filesChanged[path] = true
			turn.EditCounts[path]++
		}
	case readTools[use.ToolName]:
		if path != "" {
			filesRead[path] = true
		}
	case use.ToolName == "Bash":
		cmd, _ := use.ToolInput["command"].(string)
		if cmd == "" {
			return
		}
		turn.Commands = append(turn.Commands, cmd)
		target = NormalizeCommand(cmd)
		if msg, ok := commitMessage(cmd); ok {
			turn.Committed = true
			turn.CommitMessage = msg
		}
	}
	turn.Invocations = append(turn.Invocations, ToolInvocation{Tool: use.ToolName, Target: target})
}

// NormalizeCommand reduces a shell command to its leading program and
// subcommand so that repeated retries of the same operation compare equal
// regardless of argument noise ("go test ./pkg/..." and "go test -run X"
// both normalize to "go test").
func NormalizeCommand(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return fields[0]
	}
	return fields[0] + " " + fields[1]
}

// FilePathArg pulls a file path out of a tool's input parameters.
func FilePathArg(input map[string]any) string {
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// commitMessage reports whether cmd is a git commit and extracts the -m
// message when present.
func commitMessage(cmd string) (string, bool) {
	if !strings.Contains(cmd, "git commit") {
		return "", false
	}
	for _, marker := range []string{`-m "`, `-m '`} {
		idx := strings.Index(cmd, marker)
		if idx < 0 {
			continue
		}
		rest := cmd[idx+len(marker):]
		if end := strings.IndexByte(rest, marker[len(marker)-1]); end >= 0 {
			return rest[:end], true
		}
		return rest, true
	}
	return "", true
}

// continuationAcks are bare acknowledgments that hand the floor back to the
// agent without new instruction content.
var continuationAcks = map[string]bool{
	"ok": true, "okay": true, "k": true, "y": true, "yes": true,
	"yep": true, "sure": true, "continue": true, "go ahead": true,
	"proceed": true, "go on": true, "keep going": true, "do it": true,
	"sounds good": true, "lgtm": true, "please continue": true,
}

func isContinuationAck(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!")
	return continuationAcks[normalized]
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
