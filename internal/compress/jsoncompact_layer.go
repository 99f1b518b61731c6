package compress

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

// jsonCompactLayer minifies tool-call argument payloads unconditionally
// and minifies tool-message content only when its trimmed form starts
// and ends with a matching bracket pair and parses as JSON. Parse
// failure leaves the content untouched.
func jsonCompactLayer(msgs []types.NormalizedMessage) []types.NormalizedMessage {
	for i, m := range msgs {
		for j, tc := range m.ToolCalls {
			if compacted, ok := compactIfJSON(tc.ArgumentsRaw); ok {
				msgs[i].ToolCalls[j].ArgumentsRaw = compacted
			}
		}
		if m.Role == types.RoleTool && m.Content != nil && looksLikeJSON(*m.Content) {
			if compacted, ok := compactIfJSON(*m.Content); ok {
				msgs[i].Content = &compacted
			}
		}
	}
	return msgs
}

func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) < 2 {
		return false
	}
	return (t[0] == '{' && t[len(t)-1] == '}') || (t[0] == '[' && t[len(t)-1] == ']')
}

func compactIfJSON(s string) (string, bool) {
	if len(s) == 0 {
		return s, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s, false
	}
	return buf.String(), true
}
