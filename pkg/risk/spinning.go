package risk

import (
	"fmt"

	"pylon/pkg/turns"
)

// Spinning-detection window sizes.
const (
	spinWindow     = 10 // trailing turns examined for loops, churn, stuck
	spinToolWindow = 5  // trailing turns examined for tool repetition
)

// Signal thresholds.
const (
	errorLoopMin      = 3 // consecutive error turns for an error_loop signal
	errorLoopCritical = 5
	fileChurnMin      = 5 // edits to one file for a file_churn signal
	fileChurnCritical = 8
	repeatedToolMin   = 4 // identical (tool, target) invocations
	stuckErrorsMin    = 5 // errors with zero commits for a stuck signal
)

// SpinType names a spinning pattern.
type SpinType string

// Spinning pattern constants.
const (
	SpinErrorLoop    SpinType = "error_loop"
	SpinFileChurn    SpinType = "file_churn"
	SpinRepeatedTool SpinType = "repeated_tool"
	SpinStuck        SpinType = "stuck"
)

// SpinSignal is one detected unproductive-repetition pattern.
type SpinSignal struct {
	Type     SpinType
	Severity Level
	Detail   string
}

// repeatExemptTools legitimately repeat during normal work and are excluded
// from repeated_tool detection.
var repeatExemptTools = map[string]bool{
	"Read":      true,
	"Grep":      true,
	"Glob":      true,
	"LS":        true,
	"WebSearch": true,
	"WebFetch":  true,
	"TodoWrite": true,
	"Task":      true,
}

// DetectSpinning evaluates the trailing window of a turn sequence for
// stuck-agent patterns. Signals are returned in a fixed order: error_loop,
// file_churn, repeated_tool, stuck.
func DetectSpinning(sequence []*turns.TurnNode) []SpinSignal {
	window := tail(sequence, spinWindow)
	if len(window) == 0 {
		return nil
	}

	var signals []SpinSignal
	if s, ok := detectErrorLoop(window); ok {
		signals = append(signals, s)
	}
	if s, ok := detectFileChurn(window); ok {
		signals = append(signals, s)
	}
	if s, ok := detectRepeatedTool(tail(sequence, spinToolWindow)); ok {
		signals = append(signals, s)
	}
	if s, ok := detectStuck(window); ok {
		signals = append(signals, s)
	}
	return signals
}

// detectErrorLoop finds the longest run of consecutive error turns in the
// window.
func detectErrorLoop(window []*turns.TurnNode) (SpinSignal, bool) {
	longest, run := 0, 0
	for _, t := range window {
		if t.HasError() {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	if longest < errorLoopMin {
		return SpinSignal{}, false
	}
	sev := LevelElevated
	if longest >= errorLoopCritical {
		sev = LevelCritical
	}
	return SpinSignal{
		Type:     SpinErrorLoop,
		Severity: sev,
		Detail:   fmt.Sprintf("%d consecutive turns with errors", longest),
	}, true
}

// detectFileChurn flags any single file edited past the churn threshold
// across the window.
func detectFileChurn(window []*turns.TurnNode) (SpinSignal, bool) {
	counts := map[string]int{}
	for _, t := range window {
		for path, n := range t.EditCounts {
			counts[path] += n
		}
	}
	worstPath, worst := "", 0
	for path, n := range counts {
		if n > worst || (n == worst && path < worstPath) {
			worstPath, worst = path, n
		}
	}
	if worst < fileChurnMin {
		return SpinSignal{}, false
	}
	sev := LevelElevated
	if worst >= fileChurnCritical {
		sev = LevelCritical
	}
	return SpinSignal{
		Type:     SpinFileChurn,
		Severity: sev,
		Detail:   fmt.Sprintf("%s edited %d times", worstPath, worst),
	}, true
}

// detectRepeatedTool flags an identical (tool, target) pair hammered within
// the short window.
func detectRepeatedTool(window []*turns.TurnNode) (SpinSignal, bool) {
	counts := map[turns.ToolInvocation]int{}
	for _, t := range window {
		for _, inv := range t.Invocations {
			if repeatExemptTools[inv.Tool] {
				continue
			}
			counts[inv]++
		}
	}
	var worstInv turns.ToolInvocation
	worst := 0
	for inv, n := range counts {
		less := inv.Tool < worstInv.Tool ||
			(inv.Tool == worstInv.Tool && inv.Target < worstInv.Target)
		if n > worst || (n == worst && less) {
			worstInv, worst = inv, n
		}
	}
	if worst < repeatedToolMin {
		return SpinSignal{}, false
	}
	return SpinSignal{
		Type:     SpinRepeatedTool,
		Severity: LevelElevated,
		Detail:   fmt.Sprintf("%s(%s) invoked %d times", worstInv.Tool, worstInv.Target, worst),
	}, true
}

// detectStuck fires when the window shows sustained errors with no commit to
// show for them.
func detectStuck(window []*turns.TurnNode) (SpinSignal, bool) {
	errors, commits := 0, 0
	for _, t := range window {
		errors += t.ErrorCount
		if t.Committed {
			commits++
		}
	}
	if errors < stuckErrorsMin || commits > 0 {
		return SpinSignal{}, false
	}
	return SpinSignal{
		Type:     SpinStuck,
		Severity: LevelCritical,
		Detail:   fmt.Sprintf("%d errors and no commits in last %d turns", errors, len(window)),
	}, true
}

// tail returns the last n elements of a slice.
func tail(s []*turns.TurnNode, n int) []*turns.TurnNode {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
