// Package classifier turns a scorer.Result into a final Tier using a
// small ordered precedence chain, the same first-match-wins shape as a
// filter chain, generalized from block/flag/pass decisions to tier
// resolution.
package classifier

import (
	"fmt"
	"regexp"

	"github.com/blockrun/proxy/internal/scorer"
	"github.com/blockrun/proxy/internal/types"
)

var structuredOutputPattern = regexp.MustCompile(`(?i)json|schema|structured`)

// Decision is the Classifier's final output, ready to feed the selector.
type Decision struct {
	Tier       types.Tier
	Confidence float64
	Reasoning  string
}

// Classify applies the decision precedence:
//  1. estimatedTokens over the force-complex threshold wins outright.
//  2. a non-ambiguous scorer tier is taken as-is.
//  3. otherwise fall back to the configured ambiguous-default tier.
//  4. a structured-output system prompt can upgrade (never downgrade)
//     the selected tier to the configured minimum.
func Classify(res scorer.Result, system string, estimatedTokens int, overrides types.Overrides) Decision {
	var d Decision

	switch {
	case estimatedTokens > overrides.MaxTokensForceComplex:
		d = Decision{
			Tier:       types.TierComplex,
			Confidence: 0.95,
			Reasoning:  "large context",
		}
	case res.Tier != nil:
		d = Decision{
			Tier:       *res.Tier,
			Confidence: res.Confidence,
			Reasoning:  reasoningFrom(res),
		}
	default:
		d = Decision{
			Tier:       overrides.AmbiguousDefaultTier,
			Confidence: 0.5,
			Reasoning:  reasoningFrom(res) + "; ambiguous → default",
		}
	}

	if structuredOutputPattern.MatchString(system) && d.Tier < overrides.StructuredOutputMinTier {
		d.Tier = overrides.StructuredOutputMinTier
		d.Reasoning += "; upgraded for structured output"
	}

	return d
}

func reasoningFrom(res scorer.Result) string {
	if len(res.Signals) == 0 {
		return fmt.Sprintf("score %.2f, no signals", res.Score)
	}
	reason := fmt.Sprintf("score %.2f", res.Score)
	for _, sig := range res.Signals {
		reason += "; " + sig
	}
	return reason
}
