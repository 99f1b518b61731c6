package compress

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

var (
	errorLinePattern  = regexp.MustCompile(`(?i)error|exception|failed|traceback|panic|invalid`)
	statusLinePattern = regexp.MustCompile(`(?i)success|complete|found|ok|passed|done`)
	keyValuePattern   = regexp.MustCompile(`"(id|name|status|error|message|count|total|url|path)"\s*:\s*"?([^,"}\n]+)"?`)
)

const (
	toolObsSummaryBudget = 300
	blockFingerprintLen  = 200
)

// toolObservationLayer summarizes oversized tool-result messages and
// deduplicates large blocks that repeat verbatim across the transcript.
// This layer is approximate by design: the summary loses detail a
// human would have to go fetch from the original tool output, so it
// stays default-off.
func toolObservationLayer(msgs []types.NormalizedMessage, threshold int) ([]types.NormalizedMessage, int) {
	if threshold <= 0 {
		threshold = 500
	}
	seenBlocks := map[string]int{}
	summarized := 0

	for i, m := range msgs {
		if m.Role != types.RoleTool || m.Content == nil {
			continue
		}
		c := *m.Content

		if len(c) >= blockFingerprintLen {
			fp := c[:blockFingerprintLen]
			if firstIdx, ok := seenBlocks[fp]; ok {
				replacement := fmt.Sprintf("[See message #%d — same content]", firstIdx)
				msgs[i].Content = &replacement
				summarized++
				continue
			}
			seenBlocks[fp] = i
		}

		if len(c) <= threshold {
			continue
		}
		summary := summarizeObservation(c)
		msgs[i].Content = &summary
		summarized++
	}
	return msgs, summarized
}

func summarizeObservation(content string) string {
	lines := strings.Split(content, "\n")

	errLines := matchingLines(lines, errorLinePattern, 3)
	statusLines := matchingLines(lines, statusLinePattern, 3)
	kvs := keyValuePattern.FindAllStringSubmatch(content, -1)
	if len(kvs) > 5 {
		kvs = kvs[:5]
	}

	var b strings.Builder
	for _, l := range errLines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	for _, l := range statusLines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	for _, kv := range kvs {
		fmt.Fprintf(&b, "%q:%q\n", kv[1], strings.TrimSpace(kv[2]))
	}

	if b.Len() == 0 {
		first := strings.TrimSpace(lines[0])
		last := strings.TrimSpace(lines[len(lines)-1])
		b.WriteString(first)
		fmt.Fprintf(&b, "\n[...%d lines...]\n", max0(len(lines)-2))
		b.WriteString(last)
	}

	out := b.String()
	if len(out) > toolObsSummaryBudget {
		out = out[:toolObsSummaryBudget]
	}
	return strings.TrimRight(out, "\n")
}

func matchingLines(lines []string, pattern *regexp.Regexp, limit int) []string {
	var out []string
	for _, l := range lines {
		if pattern.MatchString(l) {
			out = append(out, strings.TrimSpace(l))
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
