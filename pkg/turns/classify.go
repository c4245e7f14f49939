package turns

import (
	"strings"

	"pylon/pkg/transcript"
)

// contextPasteThreshold is the size above which a human message is treated
// as pasted external material rather than conversation.
const contextPasteThreshold = 2500

// taskVerbs open an explicit instruction to do work.
var taskVerbs = []string{
	"fix", "add", "implement", "create", "build", "write", "update",
	"refactor", "remove", "delete", "rename", "move", "change", "make",
	"convert", "migrate", "optimize", "extract", "replace", "install",
	"run", "test", "deploy", "merge", "rebase", "revert",
}

// interrogativeOpeners start a question even without a question mark.
var interrogativeOpeners = []string{
	"what", "why", "how", "when", "where", "which", "who", "whose",
	"can ", "could ", "should ", "would ", "will ", "is ", "are ",
	"do ", "does ", "did ", "was ", "were ", "have ", "has ",
}

// feedbackMarkers signal the user correcting prior agent output.
var feedbackMarkers = []string{
	"that's wrong", "thats wrong", "that is wrong", "not what i",
	"you missed", "you forgot", "still broken", "still failing",
	"didn't work", "didnt work", "doesn't work", "doesnt work",
	"undo that", "revert that", "no, ", "no - ", "wrong file",
	"actually,", "instead of that", "try again",
}

// interruptionMarkers are injected verbatim when the user cuts the agent off.
var interruptionMarkers = []string{
	"[request interrupted by user",
	"[user interrupted]",
}

// Classify determines the turn's intent from its human message and tool
// activity. Checks run in fixed priority order; the first match wins.
func Classify(turn *TurnNode) Intent {
	text := turn.HumanText
	lower := strings.ToLower(strings.TrimSpace(text))

	if lower == "" {
		if len(turn.Events) > 0 && isSystemEvent(&turn.Events[0]) {
			return IntentSystem
		}
		return IntentConversation
	}

	switch {
	case hasTaskVerb(lower):
		return IntentTask
	case isInterrogative(lower):
		return IntentQuestion
	case hasAny(lower, feedbackMarkers):
		return IntentFeedback
	case strings.HasPrefix(lower, "/") || strings.HasPrefix(lower, "<command-name>"):
		return IntentCommand
	case isContinuationAck(lower):
		return IntentContinuation
	case hasAny(lower, interruptionMarkers):
		return IntentInterruption
	case len(text) > contextPasteThreshold:
		return IntentContext
	case len(turn.Events) > 0 && isSystemEvent(&turn.Events[0]):
		return IntentSystem
	default:
		return IntentConversation
	}
}

func isSystemEvent(ev *transcript.SessionEvent) bool {
	return ev.Kind == transcript.KindSystem || ev.IsMeta
}

// hasTaskVerb reports whether the message opens with an explicit task verb,
// checking the first few words so leading courtesy ("please fix ...") still
// matches.
func hasTaskVerb(lower string) bool {
	words := strings.Fields(lower)
	limit := 3
	if len(words) < limit {
		limit = len(words)
	}
	for i := 0; i < limit; i++ {
		word := strings.Trim(words[i], ",.:;")
		for _, verb := range taskVerbs {
			if word == verb {
				return true
			}
		}
	}
	return false
}

func isInterrogative(lower string) bool {
	// A trailing question mark on the last line is decisive.
	trimmed := strings.TrimSpace(lower)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	for _, opener := range interrogativeOpeners {
		if strings.HasPrefix(trimmed, opener) {
			return true
		}
	}
	return false
}

func hasAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
