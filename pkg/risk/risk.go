// Package risk derives per-session risk metrics and spinning-pattern
// detections from a turn sequence. An AgentRisk is a read-only snapshot,
// recomputed in full on every pipeline tick.
package risk

import (
	"sort"
	"time"

	"pylon/pkg/turns"
)

// Level is a three-step risk level.
type Level string

// Risk levels, ordered nominal < elevated < critical.
const (
	LevelNominal  Level = "nominal"
	LevelElevated Level = "elevated"
	LevelCritical Level = "critical"
)

// rank orders levels for Worse comparisons.
func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 2
	case LevelElevated:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of two levels.
func Worse(a, b Level) Level {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Error-rate ladder constants. The turn gate exists because error ratios on
// very short sessions are statistically meaningless.
const (
	minTurnsForRates = 6

	criticalErrorRate     = 0.35
	criticalMaxCorrection = 0.4

	elevatedErrorRate     = 0.20
	mildErrorRate         = 0.10
	mildMaxCorrection     = 0.4
)

// Compaction-proximity thresholds on the trailing-5-turn mean context size.
const (
	proximityWindow   = 5
	proximityCritical = 150_000
	proximityElevated = 100_000
)

// Hotspot thresholds.
const (
	hotspotMinEdits = 3
	hotspotCap      = 10
)

// Hotspot is a file drawing repeated edits.
type Hotspot struct {
	Path  string
	Edits int
}

// AgentRisk is the derived risk snapshot for one session.
type AgentRisk struct {
	Level               Level
	ErrorRate           float64
	CorrectionRatio     float64
	TotalTokens         int64
	CompactionCount     int
	CompactionProximity Level
	FileHotspots        []Hotspot
	Signals             []SpinSignal
	// ErrorTrend marks, oldest first, which of the trailing turns had errors.
	ErrorTrend      []bool
	CostByModel     map[string]float64
	TotalCostUSD    float64
	ContextUsagePct float64
	SessionDuration time.Duration
	AvgTurnDuration time.Duration
}

// Analyze computes the risk snapshot for a turn sequence.
func Analyze(sequence []*turns.TurnNode) *AgentRisk {
	r := &AgentRisk{
		CorrectionRatio: 1,
		CostByModel:     map[string]float64{},
	}
	if len(sequence) == 0 {
		r.CompactionProximity = LevelNominal
		r.Level = LevelNominal
		return r
	}

	errorTurns, correctionTurns := 0, 0
	editCounts := map[string]int{}
	var firstStart, lastEnd time.Time
	var turnDurations time.Duration
	timedTurns := 0

	for _, t := range sequence {
		if t.HasError() {
			errorTurns++
		}
		if t.IsCorrection() {
			correctionTurns++
		}
		if t.Compacted {
			r.CompactionCount++
			r.TotalCostUSD += CarriedCost(t.CompactionText)
		}
		r.TotalTokens += t.TotalTokens()
		for path, n := range t.EditCounts {
			editCounts[path] += n
		}
		if t.Model != "" {
			cost := TurnCost(t)
			r.CostByModel[t.Model] += cost
			r.TotalCostUSD += cost
		}
		if !t.StartTime.IsZero() && !t.EndTime.IsZero() {
			turnDurations += t.EndTime.Sub(t.StartTime)
			timedTurns++
			if firstStart.IsZero() {
				firstStart = t.StartTime
			}
			lastEnd = t.EndTime
		}
	}

	r.ErrorRate = float64(errorTurns) / float64(len(sequence))
	if errorTurns > 0 {
		r.CorrectionRatio = float64(correctionTurns) / float64(errorTurns)
	}
	if timedTurns > 0 {
		r.SessionDuration = lastEnd.Sub(firstStart)
		r.AvgTurnDuration = turnDurations / time.Duration(timedTurns)
	}

	r.FileHotspots = hotspots(editCounts)
	r.CompactionProximity = compactionProximity(sequence)
	r.ContextUsagePct = contextUsagePct(sequence)
	r.ErrorTrend = errorTrend(sequence)
	r.Signals = DetectSpinning(sequence)
	r.Level = overallLevel(r, len(sequence))
	return r
}

// overallLevel applies the risk ladder: first matching rule wins.
func overallLevel(r *AgentRisk, totalTurns int) Level {
	rated := totalTurns >= minTurnsForRates

	switch {
	case hasSignalAt(r.Signals, LevelCritical):
		return LevelCritical
	case rated && r.ErrorRate > criticalErrorRate && r.CorrectionRatio < criticalMaxCorrection:
		return LevelCritical
	case r.CompactionProximity == LevelCritical:
		return LevelCritical
	case hasSignalAt(r.Signals, LevelElevated):
		return LevelElevated
	case rated && r.ErrorRate > elevatedErrorRate:
		return LevelElevated
	case rated && r.ErrorRate > mildErrorRate && r.CorrectionRatio < mildMaxCorrection:
		return LevelElevated
	case r.CompactionProximity == LevelElevated:
		return LevelElevated
	default:
		return LevelNominal
	}
}

func hasSignalAt(signals []SpinSignal, level Level) bool {
	for _, s := range signals {
		if s.Severity == level {
			return true
		}
	}
	return false
}

// compactionProximity averages context size over the trailing turns that
// actually made model calls.
func compactionProximity(sequence []*turns.TurnNode) Level {
	window := tail(sequence, proximityWindow)
	var sum int64
	n := 0
	for _, t := range window {
		if t.LastContextTokens > 0 {
			sum += t.LastContextTokens
			n++
		}
	}
	if n == 0 {
		return LevelNominal
	}
	mean := sum / int64(n)
	switch {
	case mean > proximityCritical:
		return LevelCritical
	case mean > proximityElevated:
		return LevelElevated
	default:
		return LevelNominal
	}
}

// contextUsagePct reports the most recent model call's footprint against the
// model's context window. The latest call, not an average: averaging
// understates current pressure.
func contextUsagePct(sequence []*turns.TurnNode) float64 {
	for i := len(sequence) - 1; i >= 0; i-- {
		t := sequence[i]
		if t.LastContextTokens == 0 {
			continue
		}
		pct := float64(t.LastContextTokens) / float64(ContextWindow(t.Model)) * 100
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	return 0
}

func errorTrend(sequence []*turns.TurnNode) []bool {
	window := tail(sequence, spinWindow)
	trend := make([]bool, len(window))
	for i, t := range window {
		trend[i] = t.HasError()
	}
	return trend
}

// hotspots ranks files by edit count, most-edited first, path as tiebreak.
func hotspots(editCounts map[string]int) []Hotspot {
	var out []Hotspot
	for path, n := range editCounts {
		if n >= hotspotMinEdits {
			out = append(out, Hotspot{Path: path, Edits: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Edits != out[j].Edits {
			return out[i].Edits > out[j].Edits
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > hotspotCap {
		out = out[:hotspotCap]
	}
	return out
}
