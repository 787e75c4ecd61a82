package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	nonWordPattern   = regexp.MustCompile(`[^\w\s-]`)
	separatorPattern = regexp.MustCompile(`[\s-]+`)
)

// SafeFileName folds name to an ASCII, filesystem-safe stem. The name is
// NFKD-decomposed and non-ASCII runes (including the split-off accents) are
// dropped. Characters other than letters, digits, underscores, whitespace,
// and hyphens are removed, runs of whitespace and hyphens become a single
// underscore, and leading or trailing underscores are trimmed.
func SafeFileName(name string) string {
	decomposed := norm.NFKD.String(name)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	cleaned := nonWordPattern.ReplaceAllString(b.String(), "")
	return strings.Trim(separatorPattern.ReplaceAllString(cleaned, "_"), "_")
}
