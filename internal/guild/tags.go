package guild

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTag builds the case- and diacritic-insensitive comparison key for a
// tag: lowercased, combining marks stripped ("Café" -> "cafe").
func foldTag(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// splitTags splits raw user input on ';' and trims trailing spaces and
// periods per tag. Empty fragments are dropped.
func splitTags(raw string) []string {
	parts := strings.Split(raw, ";")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(p, " .")
		if p == "" {
			continue
		}
		tags = append(tags, p)
	}
	return tags
}
