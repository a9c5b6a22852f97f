package textutil

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// FoldAccents removes diacritics, "Área" becomes "Area".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName lower-cases, folds accents and removes every whitespace so
// labels can be compared regardless of how a portal prints them.
func NormalizeName(name string) string {
	name = strings.ToLower(FoldAccents(name))
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// CollapseSpaces trims and replaces whitespace runs with a single space.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// MatchName reports whether the normalized name contains any of the
// matchers, which are expected to be normalized already.
func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// LookupLabel returns the value of the first label in table matching any
// of the matchers.
func LookupLabel(table map[string]string, matchers ...string) (string, bool) {
	normalized := make([]string, len(matchers))
	for i, m := range matchers {
		normalized[i] = NormalizeName(m)
	}
	for _, m := range normalized {
		for label, value := range table {
			if NormalizeName(label) == m {
				return value, true
			}
		}
	}
	labels := make([]string, 0, len(table))
	for label := range table {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if MatchName(label, normalized) {
			return table[label], true
		}
	}
	return "", false
}
