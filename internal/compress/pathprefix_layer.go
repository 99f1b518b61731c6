package compress

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

// filePathPattern matches slash-delimited paths of three or more
// components, the kind repeated dozens of times in agentic coding
// transcripts (tool observations echoing the same source tree).
var filePathPattern = regexp.MustCompile(`(?:[\w.\-]+/){2,}[\w.\-]+`)

const maxPathPrefixCodes = 5

// pathPrefixLayer finds directory prefixes of two or more components
// that recur at least three times across the transcript and assigns
// each a short $Pk token.
func pathPrefixLayer(msgs []types.NormalizedMessage) ([]types.NormalizedMessage, []string, string) {
	counts := map[string]int{}
	for _, m := range msgs {
		if m.Content == nil {
			continue
		}
		for _, p := range filePathPattern.FindAllString(*m.Content, -1) {
			for _, prefix := range prefixesOf(p) {
				if strings.Count(prefix, "/") >= 1 {
					counts[prefix]++
				}
			}
		}
	}

	var prefixes []string
	for p, n := range counts {
		if n >= 3 {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return msgs, nil, ""
	}

	sort.Slice(prefixes, func(i, j int) bool {
		if counts[prefixes[i]] != counts[prefixes[j]] {
			return counts[prefixes[i]] > counts[prefixes[j]]
		}
		return len(prefixes[i]) > len(prefixes[j])
	})
	if len(prefixes) > maxPathPrefixCodes {
		prefixes = prefixes[:maxPathPrefixCodes]
	}

	codes := make([]string, len(prefixes))
	assignments := make(map[string]string, len(prefixes))
	for i, p := range prefixes {
		code := fmt.Sprintf("$P%d", i+1)
		codes[i] = code
		assignments[p] = code
	}

	for i, m := range msgs {
		if m.Content == nil {
			continue
		}
		c := *m.Content
		for _, p := range prefixes {
			c = strings.ReplaceAll(c, p+"/", assignments[p]+"/")
		}
		msgs[i].Content = &c
	}

	entries := make([]string, len(prefixes))
	for i, p := range prefixes {
		entries[i] = fmt.Sprintf("%s=%s/", assignments[p], p)
	}
	return msgs, codes, fmt.Sprintf("[Paths: %s]", strings.Join(entries, ", "))
}

// prefixesOf returns every directory prefix of path with at least two
// components, longest first.
func prefixesOf(path string) []string {
	segments := strings.Split(path, "/")
	var out []string
	for n := len(segments) - 1; n >= 2; n-- {
		out = append(out, strings.Join(segments[:n], "/"))
	}
	return out
}
