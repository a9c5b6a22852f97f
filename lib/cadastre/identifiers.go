package cadastre

import (
	"regexp"
	"strings"
)

var separators = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Index is a normalized cadastral index (IC), the join key across every
// portal and the name of the directory holding its artifacts.
type Index string

// NormalizeIndex strips every separator from a raw index so that
// "012.033.027.028X" and "012033 027 028X" become the same key.
// It is idempotent.
func NormalizeIndex(raw string) Index {
	return Index(strings.ToUpper(separators.ReplaceAllString(raw, "")))
}

func (i Index) String() string {
	return string(i)
}

// Protocol is a normalized protocol number from the case-tracking portal.
type Protocol string

// NormalizeProtocol strips punctuation and whitespace from a raw protocol.
func NormalizeProtocol(raw string) Protocol {
	return Protocol(strings.ToUpper(separators.ReplaceAllString(raw, "")))
}

func (p Protocol) String() string {
	return string(p)
}

// SplitIdentifiers splits a comma separated free-text list, dropping
// blank entries and repeated ones while keeping the input order.
func SplitIdentifiers(raw string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
