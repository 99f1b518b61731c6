// Package scorer computes a weighted complexity score and an agentic
// intent score for a prompt + optional system text, using the same
// compiled-rule-table scanning approach a prompt-injection heuristic
// would use to scan for fixed patterns.
package scorer

import (
	"fmt"
	"math"

	"github.com/blockrun/proxy/internal/types"
)

// Result is the scorer's output for one request.
type Result struct {
	Score        float64
	AgenticScore float64
	Signals      []string
	Tier         *types.Tier // nil when the score falls in the ambiguous band
	Confidence   float64
}

// Scorer evaluates a fixed, compiled rule table against prompt + system
// text and combines the per-dimension severities into a clamped [0,1]
// score using the configured weights.
type Scorer struct {
	rules []Rule
}

func New() *Scorer {
	return &Scorer{rules: defaultRules()}
}

// Score evaluates prompt+system text against every dimension rule,
// proposes a tentative tier from the weighted score, and reports
// ambiguity (nil tier) when the score falls within AmbiguityEpsilon of a
// boundary.
func (s *Scorer) Score(prompt, system string, estimatedTokens int, cfg types.ScoringConfig) Result {
	text := system + "\n" + prompt
	dimensionHit := map[string]float64{}
	var signals []string
	agenticHit := 0.0

	for _, r := range s.rules {
		if r.Regex.MatchString(text) {
			if r.Severity > dimensionHit[r.Dimension] {
				dimensionHit[r.Dimension] = r.Severity
			}
			signals = append(signals, r.Signal)
			if r.Dimension == "agentic" {
				agenticHit = math.Max(agenticHit, r.Severity)
			}
		}
	}

	// length proxy: token-estimate band, not a regex rule.
	lengthScore := lengthProxy(estimatedTokens)
	if lengthScore > 0 {
		dimensionHit["length"] = lengthScore
		signals = append(signals, fmt.Sprintf("estimated %d tokens", estimatedTokens))
	}

	score := 0.0
	for dim, weight := range cfg.Weights {
		score += weight * dimensionHit[dim]
	}
	score = clamp01(score)
	agenticScore := clamp01(agenticHit)

	tier, ambiguous := tentativeTier(score, cfg.TierBoundaries, cfg.AmbiguityEpsilon)
	confidence := confidenceFor(score, cfg.TierBoundaries, ambiguous)

	var tierPtr *types.Tier
	if !ambiguous {
		tierPtr = &tier
	}

	return Result{
		Score:        score,
		AgenticScore: agenticScore,
		Signals:      signals,
		Tier:         tierPtr,
		Confidence:   confidence,
	}
}

func lengthProxy(estimatedTokens int) float64 {
	switch {
	case estimatedTokens > 8000:
		return 0.9
	case estimatedTokens > 3000:
		return 0.6
	case estimatedTokens > 1000:
		return 0.3
	default:
		return 0.0
	}
}

func tentativeTier(score float64, b types.TierBoundaries, eps float64) (tier types.Tier, ambiguous bool) {
	boundaries := []float64{b.SimpleMedium, b.MediumComplex, b.ComplexReasoning}
	for _, boundary := range boundaries {
		if math.Abs(score-boundary) <= eps {
			return 0, true
		}
	}
	switch {
	case score < b.SimpleMedium:
		return types.TierSimple, false
	case score < b.MediumComplex:
		return types.TierMedium, false
	case score < b.ComplexReasoning:
		return types.TierComplex, false
	default:
		return types.TierReasoning, false
	}
}

func confidenceFor(score float64, b types.TierBoundaries, ambiguous bool) float64 {
	if ambiguous {
		return 0.5
	}
	boundaries := []float64{0, b.SimpleMedium, b.MediumComplex, b.ComplexReasoning, 1}
	minDist := math.Inf(1)
	for _, boundary := range boundaries {
		if d := math.Abs(score - boundary); d < minDist {
			minDist = d
		}
	}
	// Further from any boundary => more confident, capped at 0.95.
	conf := 0.5 + minDist*2
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
