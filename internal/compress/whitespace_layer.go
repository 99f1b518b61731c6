package compress

import (
	"regexp"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

var (
	crlf              = regexp.MustCompile(`\r\n|\r`)
	blankLineRun      = regexp.MustCompile(`\n{3,}`)
	trailingLineSpace = regexp.MustCompile(`[ \t]+\n`)
	interiorSpaceRun  = regexp.MustCompile(`([^\n ]) {2,}([^\n ])`)
	leadingIndentRun  = regexp.MustCompile(`(?m)^ {8,}`)
)

// whitespaceLayer applies the fixed sequence of whitespace
// normalizations: CRLF collapsing, trailing-space stripping, blank-line
// capping, interior space collapsing, deep-indent renormalization to
// two-space-per-level, and tab expansion.
func whitespaceLayer(msgs []types.NormalizedMessage) ([]types.NormalizedMessage, int) {
	saved := 0
	for i, m := range msgs {
		if m.Content == nil {
			continue
		}
		before := len(*m.Content)
		c := normalizeWhitespace(*m.Content)
		saved += before - len(c)
		msgs[i].Content = &c
	}
	return msgs, saved
}

func normalizeWhitespace(s string) string {
	c := crlf.ReplaceAllString(s, "\n")
	c = trailingLineSpace.ReplaceAllString(c, "\n")
	c = blankLineRun.ReplaceAllString(c, "\n\n")
	c = interiorSpaceRun.ReplaceAllString(c, "$1 $2")
	c = leadingIndentRun.ReplaceAllStringFunc(c, func(run string) string {
		level := len(run) / 8
		return strings.Repeat("  ", level)
	})
	c = strings.ReplaceAll(c, "\t", "  ")
	return strings.TrimSpace(c)
}
