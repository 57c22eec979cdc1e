// Package sanitize turns DHIS2 display names into SQL-safe column identifiers.
//
// Column is the only place in the module that performs this transform. The
// catalog, normalizer, dimension extractor, matcher and cursor all call it so
// that metadata names and result column names always agree.
package sanitize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
)

// EmptyPlaceholder is returned for empty input.
const EmptyPlaceholder = "col_empty"

// FallbackPrefix prefixes the hash placeholder used when a non-empty name
// sanitizes to nothing (for example "()" or "- . -").
const FallbackPrefix = "col_"

// Column returns the canonical identifier for a DHIS2 display name.
//
// The transform replaces dots with underscores, turns whitespace runs into a
// single underscore, strips parentheses, replaces dashes with underscores,
// collapses repeated underscores and trims underscores from both ends.
// It is deterministic and idempotent.
func Column(name string) string {
	if name == "" {
		return EmptyPlaceholder
	}

	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := false
	writeUnderscore := func() {
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	for _, r := range name {
		switch {
		case r == '(' || r == ')':
			continue
		case r == '.' || r == '-' || r == '_' || unicode.IsSpace(r):
			writeUnderscore()
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return fallback(name)
	}
	return out
}

// fallback derives a stable placeholder from the raw input.
func fallback(name string) string {
	return fmt.Sprintf("%s%08x", FallbackPrefix, murmur3.Sum32([]byte(name)))
}

// Columns sanitizes every name in order.
func Columns(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Column(n)
	}
	return out
}

// Equal reports whether two names sanitize to the same identifier.
func Equal(a, b string) bool {
	return Column(a) == Column(b)
}
