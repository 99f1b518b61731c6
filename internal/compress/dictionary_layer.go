package compress

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

// staticDictionary holds phrases common enough in agentic coding
// transcripts to be worth a fixed code, independent of any single
// request. Shaped like a static table of compiled entries scanned in
// order, repurposed here for substitution instead of detection.
// Ordered by descending length so a longer phrase is never shadowed by
// a shorter one it contains.
var staticDictionary = []string{
	"Please let me know if you have any questions",
	"I'll help you with that step by step",
	"Let me analyze this step by step",
	"Based on the information provided",
	"I apologize for the confusion",
	"Here is the updated code for you",
	"As an AI language model, I",
	"I understand your request",
	"Here is the updated code",
	"I understand, let's proceed",
	"Let's break this down",
	"Here's what I found",
}

func init() {
	sort.Slice(staticDictionary, func(i, j int) bool {
		return len(staticDictionary[i]) > len(staticDictionary[j])
	})
}

// staticDictionaryLayer replaces any occurrence of a dictionary phrase
// with its code ("C1".."Cn", assigned in the fixed descending-length
// order above) and returns the header describing which codes were
// actually used.
func staticDictionaryLayer(msgs []types.NormalizedMessage) ([]types.NormalizedMessage, []string, string) {
	used := map[int]bool{}
	for i, m := range msgs {
		if m.Content == nil {
			continue
		}
		c := *m.Content
		for idx, phrase := range staticDictionary {
			code := fmt.Sprintf("C%d", idx+1)
			if strings.Contains(c, phrase) {
				c = strings.ReplaceAll(c, phrase, code)
				used[idx] = true
			}
		}
		msgs[i].Content = &c
	}

	if len(used) == 0 {
		return msgs, nil, ""
	}

	indices := make([]int, 0, len(used))
	for idx := range used {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var codes []string
	var entries []string
	for _, idx := range indices {
		code := fmt.Sprintf("C%d", idx+1)
		codes = append(codes, code)
		entries = append(entries, fmt.Sprintf("%s=%s", code, staticDictionary[idx]))
	}
	return msgs, codes, fmt.Sprintf("[Dict: %s]", strings.Join(entries, ", "))
}
