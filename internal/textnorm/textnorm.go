// Package textnorm cleans user supplied search text. It never fails: any
// input becomes a (possibly empty) normalized string.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

const (
	DefaultMaxRunes = 100
	// MaxTerms bounds how many AND terms one query can produce.
	MaxTerms = 8
)

// Normalize folds full-width ASCII and half-width katakana to their usual
// forms, drops control and format characters, collapses whitespace
// (including the ideographic space) and cuts the result at maxRunes.
func Normalize(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	s = width.Fold.String(s)

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	space := false
	for _, r := range s {
		if r == unicode.ReplacementChar || (unicode.In(r, unicode.Cc, unicode.Cf) && !unicode.IsSpace(r) && r != '\u200d') {
			continue
		}
		if unicode.IsSpace(r) {
			space = n > 0
			continue
		}
		if space {
			if n+1 >= maxRunes {
				break
			}
			b.WriteByte(' ')
			n++
			space = false
		}
		b.WriteRune(r)
		n++
		if n >= maxRunes {
			break
		}
	}
	return b.String()
}

// Terms splits normalized text into distinct search terms.
func Terms(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		key := strings.ToLower(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
		if len(out) == MaxTerms {
			break
		}
	}
	return out
}

// RuneLen counts runes, which is what minimum lengths are measured in.
func RuneLen(s string) int {
	return len([]rune(s))
}
