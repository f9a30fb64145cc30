package sse

import (
	"github.com/tidwall/gjson"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// DeltaContent concatenates the delta text carried by a chat-completion
// chunk. Chunks without textual deltas (role-only frames, tool calls,
// keepalives) yield the empty string.
func DeltaContent(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	choices := gjson.GetBytes(data, "choices")
	if !choices.IsArray() {
		return ""
	}
	var sb []byte
	choices.ForEach(func(_, choice gjson.Result) bool {
		if content := choice.Get("delta.content"); content.Type == gjson.String {
			sb = append(sb, content.Str...)
		}
		return true
	})
	return string(sb)
}

// UsageFrom extracts the official usage block from a chunk, if present.
// Providers disagree on field names; prompt_tokens/input_tokens and
// completion_tokens/output_tokens are treated as aliases.
func UsageFrom(data []byte) (sentinel.Usage, bool) {
	if !gjson.ValidBytes(data) {
		return sentinel.Usage{}, false
	}
	usage := gjson.GetBytes(data, "usage")
	if !usage.IsObject() {
		return sentinel.Usage{}, false
	}
	u := sentinel.Usage{
		PromptTokens:     intField(usage, "prompt_tokens", "input_tokens"),
		CompletionTokens: intField(usage, "completion_tokens", "output_tokens"),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u, true
}

func intField(r gjson.Result, keys ...string) int {
	for _, key := range keys {
		if v := r.Get(key); v.Exists() {
			return int(v.Int())
		}
	}
	return 0
}
