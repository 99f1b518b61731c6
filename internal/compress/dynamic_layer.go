package compress

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

const (
	dynMinPhraseLen   = 20
	dynMaxPhraseLen   = 200
	dynMinOccurrences = 3
	dynMaxCodes       = 100
	dynMinSavings     = 50
	dynHeaderCap      = 20
	dynDisplayTrunc   = 40
)

var sentenceSplit = regexp.MustCompile(`[.\n]+`)

// dynamicCodebookLayer finds phrases repeated within this request —
// unlike the static dictionary, which is fixed across requests — and
// assigns each a one-off $D code, replacing the longest phrases first
// so a shorter phrase never shadows a longer one that contains it.
func dynamicCodebookLayer(msgs []types.NormalizedMessage) ([]types.NormalizedMessage, []string, string) {
	counts := phraseCounts(msgs)

	type candidate struct {
		text  string
		count int
		score int
	}
	var candidates []candidate
	for text, n := range counts {
		if n < dynMinOccurrences {
			continue
		}
		score := (len(text) - 4) * n
		savings := (len(text) - charsPerCode(0)) * (n - 1)
		if savings <= dynMinSavings {
			continue
		}
		candidates = append(candidates, candidate{text, n, score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].text < candidates[j].text
	})
	if len(candidates) > dynMaxCodes {
		candidates = candidates[:dynMaxCodes]
	}
	if len(candidates) == 0 {
		return msgs, nil, ""
	}

	// Replace longest phrases first so a code substitution never
	// clobbers part of a longer, still-unreplaced phrase.
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i].text) > len(candidates[j].text) })

	codes := make([]string, len(candidates))
	assignments := make(map[string]string, len(candidates))
	for i, c := range candidates {
		code := fmt.Sprintf("$D%02d", i+1)
		codes[i] = code
		assignments[c.text] = code
	}

	for i, m := range msgs {
		if m.Content == nil {
			continue
		}
		c := *m.Content
		for _, cand := range candidates {
			code := assignments[cand.text]
			c = strings.ReplaceAll(c, cand.text, code)
		}
		msgs[i].Content = &c
	}

	headerEntries := candidates
	if len(headerEntries) > dynHeaderCap {
		headerEntries = headerEntries[:dynHeaderCap]
	}
	entries := make([]string, len(headerEntries))
	for i, c := range headerEntries {
		entries[i] = fmt.Sprintf("%s=%s", assignments[c.text], truncate(c.text, dynDisplayTrunc))
	}
	return msgs, codes, fmt.Sprintf("[DynDict: %s]", strings.Join(entries, ", "))
}

func charsPerCode(_ int) int {
	return len("$D01")
}

// phraseCounts splits combined message content on sentence/newline
// boundaries and counts phrases within the eligible length band.
func phraseCounts(msgs []types.NormalizedMessage) map[string]int {
	counts := map[string]int{}
	for _, m := range msgs {
		if m.Content == nil {
			continue
		}
		for _, phrase := range sentenceSplit.Split(*m.Content, -1) {
			p := strings.TrimSpace(phrase)
			if len(p) >= dynMinPhraseLen && len(p) <= dynMaxPhraseLen {
				counts[p]++
			}
		}
	}
	return counts
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
