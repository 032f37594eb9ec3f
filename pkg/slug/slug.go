// Package slug converts display names into URL-safe identifiers.
package slug

import (
	"regexp"
	"strings"
)

var (
	nonWord  = regexp.MustCompile(`[^\w\s-]`)
	spaceRun = regexp.MustCompile(`[\s_]+`)
	dashRun  = regexp.MustCompile(`-+`)
)

// Make lowercases text, drops punctuation, and collapses whitespace and
// underscores into single dashes.
func Make(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = nonWord.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, "-")
	s = dashRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
