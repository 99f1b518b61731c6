package compress

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

// dedupLayer drops repeated assistant messages (by role+content+toolCallId+
// name+toolCalls hash) while preserving every system, user, and tool
// message untouched, and while never dropping an assistant message whose
// toolCalls is referenced by a later tool message — breaking that
// pairing would desynchronize the tool-call/tool-result protocol.
func dedupLayer(msgs []types.NormalizedMessage) ([]types.NormalizedMessage, int) {
	referenced := referencedToolCallIDs(msgs)

	seen := make(map[string]bool, len(msgs))
	out := make([]types.NormalizedMessage, 0, len(msgs))
	removed := 0
	for _, m := range msgs {
		if m.Role != types.RoleAssistant {
			out = append(out, m)
			continue
		}
		if assistantReferencesAny(m, referenced) {
			out = append(out, m)
			continue
		}
		key := fingerprint(m)
		if seen[key] {
			removed++
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out, removed
}

// referencedToolCallIDs collects every toolCallId that some tool message
// in the transcript refers back to.
func referencedToolCallIDs(msgs []types.NormalizedMessage) map[string]bool {
	ids := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == types.RoleTool && m.ToolCallID != "" {
			ids[m.ToolCallID] = true
		}
	}
	return ids
}

func assistantReferencesAny(m types.NormalizedMessage, referenced map[string]bool) bool {
	for _, tc := range m.ToolCalls {
		if referenced[tc.ID] {
			return true
		}
	}
	return false
}

func fingerprint(m types.NormalizedMessage) string {
	h := md5.New()
	h.Write([]byte(m.Role))
	h.Write([]byte{0})
	h.Write([]byte(m.ContentString()))
	h.Write([]byte{0})
	h.Write([]byte(m.ToolCallID))
	h.Write([]byte{0})
	h.Write([]byte(m.Name))
	h.Write([]byte{0})
	h.Write([]byte(toolCallsSummary(m.ToolCalls)))
	return hex.EncodeToString(h.Sum(nil))
}

func toolCallsSummary(calls []types.ToolCall) string {
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = c.ID + ":" + c.FunctionName + ":" + c.ArgumentsRaw
	}
	return strings.Join(parts, ";")
}
