package types

// ScoringConfig holds weights for every scoring dimension plus the tier
// boundaries and agentic threshold used to map a scalar score to a Tier.
type ScoringConfig struct {
	Weights          map[string]float64
	TierBoundaries   TierBoundaries
	AgenticThreshold float64
	AmbiguityEpsilon float64
}

// TierBoundaries are the score cut points separating adjacent tiers.
type TierBoundaries struct {
	SimpleMedium    float64
	MediumComplex   float64
	ComplexReasoning float64
}

// Overrides are the small set of escape hatches the Classifier applies
// after the Scorer's tentative tier.
type Overrides struct {
	MaxTokensForceComplex   int
	StructuredOutputMinTier Tier
	AmbiguousDefaultTier    Tier
	AgenticMode             bool
}

// DefaultScoringConfig returns the weights and boundaries used when no
// config file overrides them. Weight names match the dimensions scored
// by internal/scorer.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: map[string]float64{
			"code":              0.18,
			"reasoning":         0.22,
			"agentic":           0.15,
			"structured_output": 0.12,
			"length":            0.15,
			"multi_step":        0.12,
			"math":              0.14,
			"negative":          -0.20,
		},
		TierBoundaries: TierBoundaries{
			SimpleMedium:     0.25,
			MediumComplex:    0.50,
			ComplexReasoning: 0.75,
		},
		AgenticThreshold: 0.45,
		AmbiguityEpsilon: 0.03,
	}
}

func DefaultOverrides() Overrides {
	return Overrides{
		MaxTokensForceComplex:   32000,
		StructuredOutputMinTier: TierMedium,
		AmbiguousDefaultTier:    TierMedium,
		AgenticMode:             false,
	}
}

// CompressionConfig enables compression layers individually. The
// default-safe set enables only dedup, whitespace, and JSON-compact.
type CompressionConfig struct {
	EnableDedup             bool
	EnableWhitespace        bool
	EnableStaticDictionary  bool
	EnablePathPrefix        bool
	EnableJSONCompact       bool
	EnableToolObservation   bool
	EnableDynamicCodebook   bool
	ShouldCompressFloorBytes int
	MinViableInputPricePerMTok float64
	ToolObservationThreshold int
}

func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		EnableDedup:                true,
		EnableWhitespace:           true,
		EnableStaticDictionary:     false,
		EnablePathPrefix:           false,
		EnableJSONCompact:          true,
		EnableToolObservation:      false,
		EnableDynamicCodebook:      false,
		ShouldCompressFloorBytes:   5 * 1024,
		MinViableInputPricePerMTok: 0.5,
		ToolObservationThreshold:   500,
	}
}
