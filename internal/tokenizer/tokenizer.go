// Package tokenizer provides the shared BPE token counter used for cost
// estimation. The encoder dictionary is large, so one Counter is constructed
// at process start and shared by all requests.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// encodingName selects the BPE family used for all counting.
const encodingName = "cl100k_base"

// perMessageOverhead approximates the chat-format framing tokens added per
// message by OpenAI-style serializers. Slightly conservative estimates are
// preferred at admission time.
const perMessageOverhead = 4

// allSpecial permits special-token text to encode as its token id rather
// than erroring, matching encode-with-special-tokens semantics.
var allSpecial = []string{"all"}

// Counter counts BPE tokens. Safe for concurrent use after construction;
// the underlying encoding is immutable.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New loads the cl100k_base encoding. The dictionary is fetched through the
// tiktoken loader on first use and cached (TIKTOKEN_CACHE_DIR overrides the
// cache location).
func New() (*Counter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %s: %w", encodingName, err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, allSpecial, nil))
}

// CountMessages estimates the prompt token count for a message list,
// including per-message framing overhead.
func (c *Counter) CountMessages(msgs []sentinel.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + c.Count(m.Role) + c.Count(m.Content)
	}
	return total
}
