package turns

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"pylon/pkg/transcript"
)

// maxSectionLen truncates extracted section text to a display-friendly size.
const maxSectionLen = 200

// ExtractSections derives the turn's semantic sections. Each extractor is
// independent and order-insensitive; a turn with nothing to extract yields
// empty fields rather than an error.
func ExtractSections(turn *TurnNode) Sections {
	return Sections{
		Goal:        extractGoal(turn),
		Approach:    extractApproach(turn),
		Decisions:   extractDecisions(turn),
		Research:    extractResearch(turn),
		Actions:     extractActions(turn),
		Corrections: extractCorrections(turn),
		Artifacts:   append([]string(nil), turn.FilesChanged...),
		Escalations: extractEscalations(turn),
	}
}

// extractGoal takes the first sentence of the human instruction.
func extractGoal(turn *TurnNode) string {
	return firstSentence(turn.HumanText)
}

// extractApproach takes the opening of the agent's first text response.
func extractApproach(turn *TurnNode) string {
	for i := range turn.Events {
		ev := &turn.Events[i]
		if ev.Kind != transcript.KindAssistant {
			continue
		}
		if text := ev.Text(); text != "" {
			return firstSentence(text)
		}
	}
	return ""
}

var decisionMarkers = []string{
	"decided to", "going with", "went with", "chose", "opting for",
	"opted to", "instead of", "settled on", "i'll use", "i will use",
}

func extractDecisions(turn *TurnNode) []string {
	return agentSentencesMatching(turn, decisionMarkers)
}

// extractResearch lists what the agent inspected: file reads plus search
// patterns from Grep/Glob/WebSearch invocations.
func extractResearch(turn *TurnNode) []string {
	var out []string
	for _, f := range turn.FilesRead {
		out = append(out, "read "+f)
	}
	for i := range turn.Events {
		for _, use := range turn.Events[i].ToolUses() {
			switch use.ToolName {
			case "Grep", "Glob":
				if pattern, ok := use.ToolInput["pattern"].(string); ok && pattern != "" {
					out = append(out, fmt.Sprintf("searched %q", truncate(pattern, 60)))
				}
			case "WebSearch", "WebFetch":
				if q, ok := use.ToolInput["query"].(string); ok && q != "" {
					out = append(out, fmt.Sprintf("web: %s", truncate(q, 60)))
				} else if u, ok := use.ToolInput["url"].(string); ok && u != "" {
					out = append(out, fmt.Sprintf("web: %s", truncate(u, 60)))
				}
			}
		}
	}
	return out
}

// extractActions summarizes mutating activity: edits, shell commands, commits.
func extractActions(turn *TurnNode) []string {
	var out []string
	for _, f := range turn.FilesChanged {
		out = append(out, "edited "+f)
	}
	for _, cmd := range turn.Commands {
		out = append(out, "ran "+truncate(cmd, 80))
	}
	if turn.Committed {
		msg := turn.CommitMessage
		if msg == "" {
			msg = "(no message)"
		}
		out = append(out, "committed: "+truncate(msg, 80))
	}
	return out
}

var correctionMarkers = []string{
	"fixed the", "corrected", "reverted", "my mistake", "i was wrong",
	"the actual issue", "the real problem", "that was incorrect",
}

func extractCorrections(turn *TurnNode) []string {
	return agentSentencesMatching(turn, correctionMarkers)
}

var escalationMarkers = []string{
	"need your", "needs your", "blocked on", "cannot proceed",
	"can't proceed", "requires your", "please confirm", "please clarify",
	"which would you prefer", "let me know which",
}

// extractEscalations finds places where the agent handed a decision back to
// the user.
func extractEscalations(turn *TurnNode) []string {
	return agentSentencesMatching(turn, escalationMarkers)
}

// agentSentencesMatching scans the agent's text blocks for sentences
// containing any of the markers.
func agentSentencesMatching(turn *TurnNode, markers []string) []string {
	var out []string
	for i := range turn.Events {
		ev := &turn.Events[i]
		if ev.Kind != transcript.KindAssistant {
			continue
		}
		for _, sentence := range splitSentences(ev.Text()) {
			lower := strings.ToLower(sentence)
			for _, m := range markers {
				if strings.Contains(lower, m) {
					out = append(out, truncate(strings.TrimSpace(sentence), maxSectionLen))
					break
				}
			}
		}
	}
	return out
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if idx := strings.IndexAny(text, "\n"); idx > 0 {
		text = text[:idx]
	}
	if idx := strings.IndexAny(text, ".!?"); idx > 0 && idx < len(text)-1 {
		text = text[:idx+1]
	}
	return truncate(strings.TrimSpace(text), maxSectionLen)
}

func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, s := range strings.FieldsFunc(line, func(r rune) bool {
			return r == '.' || r == '!' || r == '?'
		}) {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// truncate caps s at n bytes, cutting on a rune boundary so multi-byte
// characters are never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
