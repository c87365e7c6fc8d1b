package llm

import (
	"regexp"
	"strings"
)

// fencedBlockPattern matches the first markdown code fence in a model
// reply, tolerating an optional language tag after the opening delimiter.
var fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\n(.*?)```")

// ExtractPayload returns the structured payload of a model reply: the
// contents of the first fenced block if one is present, otherwise the
// full trimmed text. A payload given bare and the same payload wrapped
// in a fence yield identical results.
func ExtractPayload(response string) string {
	if m := fencedBlockPattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}
