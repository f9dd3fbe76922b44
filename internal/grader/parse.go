package grader

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON object out of a chat reply. Models wrap output
// in markdown fences or prepend prose despite instructions, so strip the
// fences first, then cut to the outermost brace span.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)

	if m := fenceRe.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first == -1 || last == -1 || last < first {
		return ""
	}
	return content[first : last+1]
}
