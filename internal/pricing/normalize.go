package pricing

import (
	"regexp"
	"strings"
)

// familyBases are well-known model families whose dated or suffixed variants
// share one catalog entry. Matched by containment, most specific first.
var familyBases = []string{
	"deepseek-r1",
	"deepseek-v3",
	"qwen-max",
	"qwen-plus",
	"glm-4v",
	"glm-4",
}

// dateSuffix matches trailing release-date tails such as -2024-06-20,
// -20240620 or -2025.
var dateSuffix = regexp.MustCompile(`-20\d{2}(-?\d{2}){0,2}$`)

// Normalize canonicalizes a model identifier for catalog lookups: lowercase,
// the segment after the last provider prefix separator '/', and '@' replaced
// with '-'.
func Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	return strings.ReplaceAll(id, "@", "-")
}

// Simplify maps a normalized id onto its family base entry: containment
// match against the known families, then stripping of -chat/-latest/
// -instruct and release-date suffixes. Returns the input unchanged when no
// rule applies.
func Simplify(id string) string {
	for _, base := range familyBases {
		if strings.Contains(id, base) {
			return base
		}
	}
	s := dateSuffix.ReplaceAllString(id, "")
	for _, suf := range []string{"-chat", "-latest", "-instruct"} {
		s = strings.TrimSuffix(s, suf)
	}
	return s
}
