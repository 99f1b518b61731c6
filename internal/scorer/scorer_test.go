package scorer

import (
	"testing"

	"github.com/blockrun/proxy/internal/types"
)

func TestScore_Greeting_LowScore(t *testing.T) {
	s := New()
	cfg := types.DefaultScoringConfig()
	res := s.Score("Hi", "", 1, cfg)

	if res.Score > 0.25 {
		t.Errorf("expected a low score for a greeting, got %f", res.Score)
	}
}

func TestScore_ReasoningPrompt_HighScore(t *testing.T) {
	s := New()
	cfg := types.DefaultScoringConfig()
	res := s.Score("Prove step by step that sqrt(2) is irrational, then derive a contradiction", "", 200, cfg)

	if res.Tier == nil {
		t.Fatalf("expected a non-ambiguous tier, got ambiguous (score=%f)", res.Score)
	}
	if *res.Tier < types.TierComplex {
		t.Errorf("expected COMPLEX or REASONING, got %s (score=%f)", res.Tier, res.Score)
	}
}

func TestScore_AgenticMarkers_RaiseAgenticScore(t *testing.T) {
	s := New()
	cfg := types.DefaultScoringConfig()
	res := s.Score("Research the topic, then analyze the findings and plan next steps", "", 50, cfg)

	if res.AgenticScore <= 0 {
		t.Errorf("expected a positive agentic score, got %f", res.AgenticScore)
	}
}

func TestScore_AmbiguousBand_ReturnsNilTier(t *testing.T) {
	s := New()
	cfg := types.DefaultScoringConfig()
	cfg.AmbiguityEpsilon = 1.0 // force every score into the ambiguous band
	res := s.Score("Hi", "", 1, cfg)

	if res.Tier != nil {
		t.Errorf("expected ambiguous (nil tier) with a wide epsilon, got %s", res.Tier)
	}
	if res.Confidence != 0.5 {
		t.Errorf("expected confidence 0.5 for ambiguous result, got %f", res.Confidence)
	}
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	s := New()
	cfg := types.DefaultScoringConfig()
	text := "```go\nfunc main() { analyze research plan then execute }\n```\nprove derive step by step why 1+1=2 json schema structured output"
	res := s.Score(text, text, 20000, cfg)

	if res.Score < 0 || res.Score > 1 {
		t.Errorf("score out of [0,1]: %f", res.Score)
	}
}
