package graph

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes an entity name into its dedup-key form:
// Unicode NFKC, trimmed, lowercased, internal whitespace collapsed to single
// spaces. Whitespace-only input normalizes to the empty string, which callers
// treat as "no usable name".
func NormalizeName(name string) string {
	normalized := norm.NFKC.String(name)
	normalized = strings.ToLower(strings.TrimSpace(normalized))
	if normalized == "" {
		return ""
	}
	return strings.Join(strings.Fields(normalized), " ")
}
