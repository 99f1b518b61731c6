// Package compress implements the seven-layer reversible context
// compression pipeline: dedup, whitespace normalization, static
// dictionary, path-prefix shortening, JSON compaction, tool-observation
// summarization, and a dynamic per-request codebook. Layers are enabled
// individually via types.CompressionConfig, each built as a compiled
// pattern table scanned in order.
package compress

import (
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

// Stats reports what each layer did, useful for telemetry and tests.
type Stats struct {
	DedupRemoved       int
	WhitespaceSaved    int
	DictionaryCodes    []string
	PathCodes          []string
	DynamicCodes       []string
	ToolObservationsSummarized int
}

// Result is the pipeline's output: the transformed messages plus the
// stats describing what happened.
type Result struct {
	Messages []types.NormalizedMessage
	Stats    Stats
}

// Run applies every enabled layer in order and, if any codes were
// generated, prepends a codebook header to the first user message.
func Run(messages []types.NormalizedMessage, cfg types.CompressionConfig) Result {
	msgs := cloneMessages(messages)
	var stats Stats

	if cfg.EnableDedup {
		msgs, stats.DedupRemoved = dedupLayer(msgs)
	}
	if cfg.EnableWhitespace {
		msgs, stats.WhitespaceSaved = whitespaceLayer(msgs)
	}

	var dictHeader, pathHeader, dynHeader string
	if cfg.EnableStaticDictionary {
		msgs, stats.DictionaryCodes, dictHeader = staticDictionaryLayer(msgs)
	}
	if cfg.EnablePathPrefix {
		msgs, stats.PathCodes, pathHeader = pathPrefixLayer(msgs)
	}
	if cfg.EnableJSONCompact {
		msgs = jsonCompactLayer(msgs)
	}
	if cfg.EnableToolObservation {
		msgs, stats.ToolObservationsSummarized = toolObservationLayer(msgs, cfg.ToolObservationThreshold)
	}
	if cfg.EnableDynamicCodebook {
		msgs, stats.DynamicCodes, dynHeader = dynamicCodebookLayer(msgs)
	}

	header := buildHeader(dictHeader, pathHeader, dynHeader)
	if header != "" {
		msgs = prependHeader(msgs, header)
	}

	return Result{Messages: msgs, Stats: stats}
}

// ShouldCompress implements the size- and cost-based skip heuristics:
// skip when the combined content is under the configured floor, or —
// supplementally — when the selected model's input price makes the CPU
// cost of compressing not worth it.
func ShouldCompress(messages []types.NormalizedMessage, cfg types.CompressionConfig, selectedModelInputPricePerMTok float64) bool {
	total := 0
	for _, m := range messages {
		total += len(m.ContentString())
	}
	if total < cfg.ShouldCompressFloorBytes {
		return false
	}
	if cfg.MinViableInputPricePerMTok > 0 && selectedModelInputPricePerMTok > 0 &&
		selectedModelInputPricePerMTok < cfg.MinViableInputPricePerMTok {
		return false
	}
	return true
}

func cloneMessages(in []types.NormalizedMessage) []types.NormalizedMessage {
	out := make([]types.NormalizedMessage, len(in))
	copy(out, in)
	for i, m := range in {
		if m.Content != nil {
			c := *m.Content
			out[i].Content = &c
		}
		if m.ToolCalls != nil {
			out[i].ToolCalls = append([]types.ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

func buildHeader(dict, paths, dyn string) string {
	var parts []string
	if dict != "" {
		parts = append(parts, dict)
	}
	if paths != "" {
		parts = append(parts, paths)
	}
	if dyn != "" {
		parts = append(parts, dyn)
	}
	return strings.Join(parts, "\n")
}

// prependHeader inserts the codebook header text at the front of the
// first "user" message's content (never the system message).
func prependHeader(msgs []types.NormalizedMessage, header string) []types.NormalizedMessage {
	for i, m := range msgs {
		if m.Role == types.RoleUser {
			newContent := header + "\n" + m.ContentString()
			msgs[i].Content = &newContent
			break
		}
	}
	return msgs
}
