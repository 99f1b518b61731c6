package router

import (
	"testing"

	"github.com/blockrun/proxy/internal/scorer"
	"github.com/blockrun/proxy/internal/selector"
	"github.com/blockrun/proxy/internal/types"
)

func testSelectorConfig() selector.Config {
	return selector.Config{
		Tiers: selector.TierConfigSet{
			types.TierSimple:    {Primary: "openrouter/small", Fallback: []types.ModelID{"openrouter/small-b"}},
			types.TierMedium:    {Primary: "openrouter/medium"},
			types.TierComplex:   {Primary: "openrouter/large"},
			types.TierReasoning: {Primary: "openrouter/reasoner"},
		},
		Pricing: map[types.ModelID]types.ModelPricing{
			"openrouter/small":    {InputPrice: 0.1, OutputPrice: 0.2},
			"openrouter/small-b":  {InputPrice: 0.1, OutputPrice: 0.2},
			"openrouter/medium":   {InputPrice: 1, OutputPrice: 2},
			"openrouter/large":    {InputPrice: 5, OutputPrice: 10},
			"openrouter/reasoner": {InputPrice: 15, OutputPrice: 30},
		},
		BaselineModel: "openrouter/reasoner",
	}
}

func newTestFacade() *Facade {
	return NewFacade(
		scorer.New(),
		func() types.ScoringConfig { return types.DefaultScoringConfig() },
		func() types.Overrides { return types.DefaultOverrides() },
		testSelectorConfig,
	)
}

func TestFacade_RouteSimplePrompt(t *testing.T) {
	f := newTestFacade()
	decision, err := f.Route("say hi", "", 50, RouteOptions{Profile: types.ProfileAuto})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Model == "" {
		t.Fatal("expected a model to be selected")
	}
	if decision.Method != types.MethodRules {
		t.Errorf("expected method rules, got %q", decision.Method)
	}
	if len(decision.FallbackChain) == 0 {
		t.Error("expected a non-empty fallback chain")
	}
}

func TestFacade_RouteExplicitOverrideBypassesScoring(t *testing.T) {
	f := newTestFacade()
	decision, err := f.Route("irrelevant", "", 100, RouteOptions{
		Profile:       types.ProfileAuto,
		ModelOverride: "openrouter/medium",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Model != "openrouter/medium" {
		t.Errorf("expected explicit override honored, got %q", decision.Model)
	}
	if len(decision.FallbackChain) != 1 || decision.FallbackChain[0] != "openrouter/medium" {
		t.Errorf("expected single-entry fallback chain for override, got %v", decision.FallbackChain)
	}
	if decision.Confidence != 1.0 {
		t.Errorf("expected full confidence for explicit override, got %f", decision.Confidence)
	}
}

func TestFacade_RoutePremiumNeverReportsSavings(t *testing.T) {
	f := newTestFacade()
	decision, err := f.Route("irrelevant", "", 100, RouteOptions{
		Profile:       types.ProfilePremium,
		ModelOverride: "openrouter/small",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Savings != 0 {
		t.Errorf("expected zero savings under premium profile, got %f", decision.Savings)
	}
}

func TestFacade_RouteUnknownTierErrors(t *testing.T) {
	f := NewFacade(
		scorer.New(),
		func() types.ScoringConfig { return types.DefaultScoringConfig() },
		func() types.Overrides { return types.DefaultOverrides() },
		func() selector.Config {
			return selector.Config{
				Tiers:         selector.TierConfigSet{}, // no tiers configured
				BaselineModel: "openrouter/reasoner",
			}
		},
	)
	_, err := f.Route("hello", "", 10, RouteOptions{Profile: types.ProfileAuto})
	if err == nil {
		t.Fatal("expected error when no tier config matches")
	}
}
