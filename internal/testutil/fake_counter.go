package testutil

import (
	"strings"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// WordCounter is a deterministic token counter for tests: one token per
// whitespace-separated word, no per-message overhead. It avoids loading
// the real BPE dictionary.
type WordCounter struct{}

// Count returns the number of whitespace-separated words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// CountMessages sums Count over every message's content.
func (WordCounter) CountMessages(msgs []sentinel.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(strings.Fields(m.Content))
	}
	return total
}

// FakeCounter delegates to its Fn fields, defaulting to WordCounter
// behavior when unset.
type FakeCounter struct {
	CountFn         func(text string) int
	CountMessagesFn func(msgs []sentinel.Message) int
}

// Count delegates to CountFn or counts words.
func (f *FakeCounter) Count(text string) int {
	if f.CountFn != nil {
		return f.CountFn(text)
	}
	return WordCounter{}.Count(text)
}

// CountMessages delegates to CountMessagesFn or counts words.
func (f *FakeCounter) CountMessages(msgs []sentinel.Message) int {
	if f.CountMessagesFn != nil {
		return f.CountMessagesFn(msgs)
	}
	return WordCounter{}.CountMessages(msgs)
}
