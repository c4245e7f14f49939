package risk

import (
	"regexp"
	"strconv"
	"strings"

	"pylon/pkg/turns"
)

// Pricing holds per-million-token rates for one model family. Input, output,
// cache reads, and cache writes are priced independently.
type Pricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// modelPricing maps a model-identifier substring to its rates. Lookup takes
// the first matching entry, so more specific substrings come first.
var modelPricing = []struct {
	match string
	rates Pricing
}{
	{"opus", Pricing{InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.50, CacheWritePerMTok: 18.75}},
	{"sonnet", Pricing{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75}},
	{"haiku", Pricing{InputPerMTok: 0.80, OutputPerMTok: 4, CacheReadPerMTok: 0.08, CacheWritePerMTok: 1}},
}

// defaultPricing is applied to unrecognized models; sonnet-class rates are
// the least misleading middle ground.
var defaultPricing = Pricing{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75}

// PricingFor resolves rates for a model identifier.
func PricingFor(model string) Pricing {
	lower := strings.ToLower(model)
	for _, entry := range modelPricing {
		if strings.Contains(lower, entry.match) {
			return entry.rates
		}
	}
	return defaultPricing
}

// ContextWindow returns the model's context window in tokens. Long-context
// variants advertise "1m" in the identifier; everything else is 200k.
func ContextWindow(model string) int64 {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "1m") || strings.Contains(lower, "sonnet-1m") {
		return 1_000_000
	}
	return 200_000
}

// TurnCost prices one turn's token usage against its model's rates.
func TurnCost(turn *turns.TurnNode) float64 {
	p := PricingFor(turn.Model)
	const mtok = 1_000_000
	return float64(turn.InputTokens)*p.InputPerMTok/mtok +
		float64(turn.OutputTokens)*p.OutputPerMTok/mtok +
		float64(turn.CacheReadTokens)*p.CacheReadPerMTok/mtok +
		float64(turn.CacheCreationTokens)*p.CacheWritePerMTok/mtok
}

// carriedCostPattern matches a dollar figure in a compaction summary, e.g.
// "Total cost: $12.34". Compaction truncates the transcript, so spend from
// the truncated material survives only in the summary text.
var carriedCostPattern = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]+)?)`)

// CarriedCost extracts the pre-compaction spend recorded in a compaction
// summary. Returns 0 when the summary carries no cost figure.
func CarriedCost(compactionText string) float64 {
	m := carriedCostPattern.FindStringSubmatch(compactionText)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
