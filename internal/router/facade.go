package router

import (
	"fmt"
	"math"

	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/scorer"
	"github.com/blockrun/proxy/internal/selector"
	"github.com/blockrun/proxy/internal/types"
)

// RouteOptions carries the per-request knobs Route needs beyond the raw
// prompt text.
type RouteOptions struct {
	Profile types.RoutingProfile
	// ModelOverride, when non-empty, bypasses the Scorer/Classifier
	// entirely: the request already named an explicit provider-qualified
	// model, so the fallback chain is just that one model.
	ModelOverride types.ModelID
}

// Facade is the router facade: it chains Scorer → Classifier → Selector
// behind a single Route call, resolving once and passing a
// RoutingDecision down rather than re-resolving per attempt.
type Facade struct {
	Scorer         *scorer.Scorer
	ScoringConfig  func() types.ScoringConfig
	Overrides      func() types.Overrides
	SelectorConfig func() selector.Config
}

// NewFacade builds a Facade from its three collaborators' config
// accessors, so callers (the dispatcher, tests) can swap in a hot-reloaded
// config.Loader without the Facade knowing about config.Loader directly.
func NewFacade(s *scorer.Scorer, scoringCfg func() types.ScoringConfig, overrides func() types.Overrides, selectorCfg func() selector.Config) *Facade {
	return &Facade{Scorer: s, ScoringConfig: scoringCfg, Overrides: overrides, SelectorConfig: selectorCfg}
}

// Route scores prompt+system, classifies a tier, and selects a model and
// fallback chain for it. estimatedInputTokens is derived the same way
// the scorer defines it: ceil((len(system)+len(prompt))/4).
func (f *Facade) Route(prompt, system string, maxOutputTokens int, opts RouteOptions) (types.RoutingDecision, error) {
	estimatedInputTokens := int(math.Ceil(float64(len(system)+len(prompt)) / 4))

	if opts.ModelOverride != "" {
		return f.routeOverride(opts.ModelOverride, opts.Profile, estimatedInputTokens, maxOutputTokens), nil
	}

	scoringCfg := f.ScoringConfig()
	result := f.Scorer.Score(prompt, system, estimatedInputTokens, scoringCfg)
	overrides := f.Overrides()
	decision := classifier.Classify(result, system, estimatedInputTokens, overrides)
	agentic := overrides.AgenticMode || result.AgenticScore >= scoringCfg.AgenticThreshold

	sel, ok := selector.Select(f.SelectorConfig(), selector.Input{
		Tier:                 decision.Tier,
		Profile:              opts.Profile,
		Agentic:              agentic,
		EstimatedInputTokens: estimatedInputTokens,
		MaxOutputTokens:      maxOutputTokens,
	})
	if !ok {
		return types.RoutingDecision{}, fmt.Errorf("router: no tier config for tier %s under profile %s", decision.Tier, opts.Profile)
	}

	sel.Confidence = decision.Confidence
	sel.Method = types.MethodRules
	sel.Reasoning = decision.Reasoning
	return sel, nil
}

// routeOverride builds a single-model RoutingDecision for an explicit
// provider-qualified model id, which bypasses the Scorer/Classifier but
// still goes through the dispatcher's ordinary fallback-loop code path
// with a one-entry chain.
func (f *Facade) routeOverride(model types.ModelID, profile types.RoutingProfile, estimatedInputTokens, maxOutputTokens int) types.RoutingDecision {
	cfg := f.SelectorConfig()
	pricing := cfg.Pricing[model]
	costEstimate := float64(estimatedInputTokens)*pricing.InputPrice/1e6 + float64(maxOutputTokens)*pricing.OutputPrice/1e6
	baselinePricing := cfg.Pricing[cfg.BaselineModel]
	baselineCost := float64(estimatedInputTokens)*baselinePricing.InputPrice/1e6 + float64(maxOutputTokens)*baselinePricing.OutputPrice/1e6

	savings := 0.0
	if profile != types.ProfilePremium && baselineCost > 0 {
		if s := (baselineCost - costEstimate) / baselineCost; s > 0 {
			savings = s
		}
	}

	return types.RoutingDecision{
		Model:         model,
		Method:        types.MethodRules,
		Reasoning:     "explicit model requested",
		Confidence:    1.0,
		CostEstimate:  costEstimate,
		BaselineCost:  baselineCost,
		Savings:       savings,
		FallbackChain: []types.ModelID{model},
	}
}
