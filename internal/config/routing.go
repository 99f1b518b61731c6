package config

import (
	"log/slog"

	"github.com/blockrun/proxy/internal/types"
)

// RoutingConfig is the tier-to-model routing table loaded from
// routing.yaml: the default fallback chains per tier, plus the eco,
// premium, and agentic variants consulted by internal/selector.
type RoutingConfig struct {
	BaselineModel types.ModelID                    `yaml:"baseline_model"`
	Tiers         map[string]TierRoute             `yaml:"tiers"`
	EcoTiers      map[string]TierRoute             `yaml:"eco_tiers"`
	PremiumTiers  map[string]TierRoute             `yaml:"premium_tiers"`
	AgenticTiers  map[string]TierRoute             `yaml:"agentic_tiers"`
}

type TierRoute struct {
	Primary  types.ModelID   `yaml:"primary"`
	Fallback []types.ModelID `yaml:"fallback"`
}

// PricingConfig is the per-model price table loaded from pricing.yaml.
type PricingConfig struct {
	Models map[types.ModelID]types.ModelPricing `yaml:"models"`
	// ContextWindows maps a model to its max total token count, used by
	// the selector's context-window filter.
	ContextWindows map[types.ModelID]int `yaml:"context_windows"`
}

func tierRouteToConfigSet(m map[string]TierRoute) map[types.Tier]types.TierConfig {
	if m == nil {
		return nil
	}
	out := make(map[types.Tier]types.TierConfig, len(m))
	for name, route := range m {
		tier, ok := types.ParseTier(name)
		if !ok {
			continue
		}
		out[tier] = types.TierConfig{Primary: route.Primary, Fallback: route.Fallback}
	}
	return out
}

// TierConfigSet returns the configured set keyed by Tier for the given
// routing table field (Tiers, EcoTiers, PremiumTiers, or AgenticTiers).
func (r RoutingConfig) TierConfigSet() map[types.Tier]types.TierConfig {
	return tierRouteToConfigSet(r.Tiers)
}

func (r RoutingConfig) EcoTierConfigSet() map[types.Tier]types.TierConfig {
	return tierRouteToConfigSet(r.EcoTiers)
}

func (r RoutingConfig) PremiumTierConfigSet() map[types.Tier]types.TierConfig {
	return tierRouteToConfigSet(r.PremiumTiers)
}

func (r RoutingConfig) AgenticTierConfigSet() map[types.Tier]types.TierConfig {
	return tierRouteToConfigSet(r.AgenticTiers)
}

// ContextWindowOracle returns a lookup function suitable for
// selector.Config.ContextWindowOf.
func (p PricingConfig) ContextWindowOracle() func(types.ModelID) (int, bool) {
	return func(m types.ModelID) (int, bool) {
		w, ok := p.ContextWindows[m]
		return w, ok
	}
}

// WarnMissingPricing logs a diagnostic for every ModelID referenced by
// any tier set (default, eco, premium, agentic) that has no entry in
// pricing.yaml's models table. A missing entry still prices the model
// at $0 rather than failing routing, but a silent $0 price hides a
// misconfigured routing table, so it must surface somewhere.
func (r RoutingConfig) WarnMissingPricing(pricing PricingConfig, logger *slog.Logger) {
	sets := map[string]map[string]TierRoute{
		"tiers":         r.Tiers,
		"eco_tiers":     r.EcoTiers,
		"premium_tiers": r.PremiumTiers,
		"agentic_tiers": r.AgenticTiers,
	}
	seen := make(map[types.ModelID]bool)
	for setName, set := range sets {
		for tierName, route := range set {
			for _, model := range (types.TierConfig{Primary: route.Primary, Fallback: route.Fallback}).FallbackChain() {
				if model == "" || seen[model] {
					continue
				}
				if _, ok := pricing.Models[model]; !ok {
					logger.Warn("model referenced in routing config has no pricing entry, defaulting to $0",
						"model", string(model), "tier_set", setName, "tier", tierName)
					seen[model] = true
				}
			}
		}
	}
}
