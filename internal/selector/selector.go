// Package selector maps a (tier, profile, agentic) triple to an ordered
// fallback chain and computes cost/savings estimates. The chain logic
// generalizes a "first available provider" resolver into a full
// ordered, context-filtered chain, with the cost-estimate formula
// modeled on other_examples/NodeNestor-CodeGate__tier.go.
package selector

import (
	"github.com/blockrun/proxy/internal/types"
)

// TierConfigSet holds the TierConfig for every Tier under one selection
// mode (default/eco/premium/agentic).
type TierConfigSet map[types.Tier]types.TierConfig

// Config is the full model-routing configuration consulted by Select.
type Config struct {
	Tiers         TierConfigSet
	EcoTiers      TierConfigSet
	PremiumTiers  TierConfigSet
	AgenticTiers  TierConfigSet // optional; nil means "not configured"
	Pricing       map[types.ModelID]types.ModelPricing
	BaselineModel types.ModelID
	// ContextWindowOf returns the known context window for a model, or
	// false when unknown. A nil oracle behaves as "unknown for every
	// model" and the window filter becomes a no-op.
	ContextWindowOf func(types.ModelID) (int, bool)
}

// Input bundles the per-request parameters Select needs.
type Input struct {
	Tier             types.Tier
	Profile          types.RoutingProfile
	Agentic          bool
	EstimatedInputTokens int
	MaxOutputTokens  int
}

// Select builds the fallback chain for the given tier/profile/agentic
// combination, filters it by context window, and computes cost and
// savings for the head of the filtered chain.
func Select(cfg Config, in Input) (types.RoutingDecision, bool) {
	set := chooseSet(cfg, in.Profile, in.Agentic)
	tierCfg, ok := set[in.Tier]
	if !ok {
		return types.RoutingDecision{}, false
	}

	chain := tierCfg.FallbackChain()
	estimatedTotal := in.EstimatedInputTokens + in.MaxOutputTokens
	filtered := filterByContextWindow(chain, estimatedTotal, cfg.ContextWindowOf)
	if len(filtered) == 0 {
		// Better an API error than no attempt: fall back to the
		// unfiltered chain rather than refusing to route at all.
		filtered = chain
	}

	model := filtered[0]
	costEstimate := cost(cfg.Pricing[model], in.EstimatedInputTokens, in.MaxOutputTokens)
	baselineCost := cost(cfg.Pricing[cfg.BaselineModel], in.EstimatedInputTokens, in.MaxOutputTokens)

	savings := 0.0
	if in.Profile != types.ProfilePremium && baselineCost > 0 {
		s := (baselineCost - costEstimate) / baselineCost
		if s > 0 {
			savings = s
		}
	}

	return types.RoutingDecision{
		Model:         model,
		Tier:          in.Tier,
		CostEstimate:  costEstimate,
		BaselineCost:  baselineCost,
		Savings:       savings,
		FallbackChain: filtered,
	}, true
}

func chooseSet(cfg Config, profile types.RoutingProfile, agentic bool) TierConfigSet {
	switch profile {
	case types.ProfileEco, types.ProfileFree:
		if cfg.EcoTiers != nil {
			return cfg.EcoTiers
		}
	case types.ProfilePremium:
		if cfg.PremiumTiers != nil {
			return cfg.PremiumTiers
		}
	default:
		if agentic && cfg.AgenticTiers != nil {
			return cfg.AgenticTiers
		}
	}
	return cfg.Tiers
}

func filterByContextWindow(chain []types.ModelID, estimatedTotal int, oracle func(types.ModelID) (int, bool)) []types.ModelID {
	if oracle == nil {
		return chain
	}
	needed := float64(estimatedTotal) * 1.1
	var out []types.ModelID
	for _, m := range chain {
		window, known := oracle(m)
		if !known || float64(window) >= needed {
			out = append(out, m)
		}
	}
	return out
}

func cost(pricing types.ModelPricing, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*pricing.InputPrice/1e6 + float64(outputTokens)*pricing.OutputPrice/1e6
}
