package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blockrun/proxy/internal/types"
)

// wireMessage is the OpenAI-compatible message shape read from and
// written back to the client/upstream body.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// parsedRequest is the result of decoding a chat-completion request body
// just far enough to validate it and drive routing, while keeping every
// other top-level field (temperature, tools, …) untouched in Raw so it
// can be reassembled verbatim for the upstream call.
type parsedRequest struct {
	Raw       map[string]json.RawMessage
	Model     string
	Messages  []wireMessage
	MaxTokens *int
	Stream    bool
}

func parseRequest(body []byte) (parsedRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return parsedRequest{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var model string
	if m, ok := raw["model"]; ok {
		if err := json.Unmarshal(m, &model); err != nil {
			return parsedRequest{}, fmt.Errorf("model must be a string: %w", err)
		}
	}

	rawMessages, ok := raw["messages"]
	if !ok {
		return parsedRequest{}, fmt.Errorf("messages is required")
	}
	var messages []wireMessage
	if err := json.Unmarshal(rawMessages, &messages); err != nil {
		return parsedRequest{}, fmt.Errorf("messages: %w", err)
	}

	var maxTokens *int
	if mt, ok := raw["max_tokens"]; ok && string(mt) != "null" {
		var v int
		if err := json.Unmarshal(mt, &v); err != nil {
			return parsedRequest{}, fmt.Errorf("max_tokens must be an integer: %w", err)
		}
		maxTokens = &v
	}

	var stream bool
	if s, ok := raw["stream"]; ok {
		json.Unmarshal(s, &stream)
	}

	return parsedRequest{Raw: raw, Model: model, Messages: messages, MaxTokens: maxTokens, Stream: stream}, nil
}

// classifyModelField maps the client's "model" value to a routing
// profile plus an optional explicit override: the bare keywords select
// a profile and trigger tier routing; any other value must be a
// provider-qualified "provider/model-name" id, which bypasses
// classification but still travels through the ordinary fallback-loop
// code path as a one-entry chain.
func classifyModelField(model string) (types.RoutingProfile, types.ModelID, error) {
	switch model {
	case "", "auto":
		return types.ProfileAuto, "", nil
	case "free":
		return types.ProfileFree, "", nil
	case "eco":
		return types.ProfileEco, "", nil
	case "premium":
		return types.ProfilePremium, "", nil
	}
	if !strings.Contains(model, "/") {
		return "", "", fmt.Errorf("unknown model identifier %q", model)
	}
	return types.ProfileAuto, types.ModelID(model), nil
}

// toNormalized converts wire messages into the canonical representation
// shared by the scorer and the compression pipeline.
func toNormalized(msgs []wireMessage) []types.NormalizedMessage {
	out := make([]types.NormalizedMessage, len(msgs))
	for i, m := range msgs {
		nm := types.NormalizedMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if len(m.ToolCalls) > 0 {
			nm.ToolCalls = make([]types.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				nm.ToolCalls[j] = types.ToolCall{
					ID:           tc.ID,
					FunctionName: tc.Function.Name,
					ArgumentsRaw: tc.Function.Arguments,
				}
			}
		}
		out[i] = nm
	}
	return out
}

// marshalMessages converts normalized messages back to wire form,
// restoring the "type":"function" tag every tool call needs on the wire.
func marshalMessages(msgs []types.NormalizedMessage) (json.RawMessage, error) {
	wire := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				wm.ToolCalls[j] = wireToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: wireFunction{Name: tc.FunctionName, Arguments: tc.ArgumentsRaw},
				}
			}
		}
		wire[i] = wm
	}
	return json.Marshal(wire)
}

// buildUpstreamBody reassembles the full request body with "model" and
// "messages" replaced, leaving every other field (temperature, tools,
// stream, …) exactly as the client sent it.
func buildUpstreamBody(raw map[string]json.RawMessage, model types.ModelID, messagesRaw json.RawMessage) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(raw)+2)
	for k, v := range raw {
		out[k] = v
	}
	modelJSON, err := json.Marshal(string(model))
	if err != nil {
		return nil, fmt.Errorf("encoding model: %w", err)
	}
	out["model"] = modelJSON
	out["messages"] = messagesRaw
	return json.Marshal(out)
}

// extractPromptSystem returns the last user message's content as the
// prompt and the first system message's content as system text, the
// same inputs the scorer is defined over.
func extractPromptSystem(msgs []types.NormalizedMessage) (prompt, system string) {
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			if system == "" {
				system = m.ContentString()
			}
		case types.RoleUser:
			prompt = m.ContentString()
		}
	}
	return prompt, system
}
