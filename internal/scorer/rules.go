package scorer

import "regexp"

// Rule defines one complexity-scoring rule. Severity is the rule's
// contribution to its dimension when Regex matches at least once in the
// scored text; when several rules of one dimension match, only the
// largest severity counts.
type Rule struct {
	Name      string
	Regex     *regexp.Regexp
	Severity  float64
	Dimension string
	Signal    string
}

// defaultRules returns the built-in complexity-scoring rule table,
// compiled once. Each rule contributes to exactly one of the named
// dimensions in types.ScoringConfig.Weights.
func defaultRules() []Rule {
	return []Rule{
		// code
		{
			Name:      "code_fence",
			Regex:     regexp.MustCompile("```"),
			Severity:  0.6,
			Dimension: "code",
			Signal:    "contains code fence",
		},
		{
			Name:      "code_keywords",
			Regex:     regexp.MustCompile(`(?i)\b(func|def|class|import|package|return|async|await|public\s+static|const\s+\w+\s*=)\b`),
			Severity:  0.4,
			Dimension: "code",
			Signal:    "contains code keywords",
		},
		// reasoning
		{
			Name:      "reasoning_markers",
			Regex:     regexp.MustCompile(`(?i)\b(prove|derive|step by step|step-by-step|why does|explain why|walk me through)\b`),
			Severity:  0.7,
			Dimension: "reasoning",
			Signal:    "contains reasoning markers",
		},
		{
			Name:      "math_operators",
			Regex:     regexp.MustCompile(`[∫∑√±≤≥≠]|\b\d+\s*[\+\-\*/\^]\s*\d+\b`),
			Severity:  0.5,
			Dimension: "math",
			Signal:    "contains math expressions",
		},
		// agentic
		{
			Name:      "agentic_markers",
			Regex:     regexp.MustCompile(`(?i)\b(analyze|research|investigate|plan|then|after that|next step|execute|run the)\b`),
			Severity:  0.5,
			Dimension: "agentic",
			Signal:    "contains agentic intent markers",
		},
		{
			Name:      "multi_step_markers",
			Regex:     regexp.MustCompile(`(?i)\b(first|second|third|finally|step \d+)\b`),
			Severity:  0.4,
			Dimension: "multi_step",
			Signal:    "contains multi-step markers",
		},
		{
			Name:      "tool_name_tokens",
			Regex:     regexp.MustCompile(`(?i)\b(search|fetch|browse|read_file|write_file|shell|bash|curl)\(`),
			Severity:  0.6,
			Dimension: "agentic",
			Signal:    "contains tool-call-like tokens",
		},
		// structured output
		{
			Name:      "structured_output_markers",
			Regex:     regexp.MustCompile(`(?i)\b(json|schema|structured output|yaml)\b`),
			Severity:  0.6,
			Dimension: "structured_output",
			Signal:    "requests structured output",
		},
		// negative signals
		{
			Name:      "greeting",
			Regex:     regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you)\b`),
			Severity:  0.8,
			Dimension: "negative",
			Signal:    "looks like a greeting",
		},
		{
			Name:      "yes_no_form",
			Regex:     regexp.MustCompile(`(?i)^\s*(is|are|do|does|can|will|should)\s+\w+.{0,40}\?\s*$`),
			Severity:  0.5,
			Dimension: "negative",
			Signal:    "looks like a yes/no question",
		},
	}
}
