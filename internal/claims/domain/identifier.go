package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier returns the canonical token form of a raw identifier:
// - Trimmed of surrounding whitespace
// - Unicode NFC composed
// - Case folded, so "Alice", "ALICE" and "alice" are the same token
//
// Every tier (filter, cache, store) is keyed by this form. An identifier that
// is empty after trimming yields ErrInvalidIdentifier.
func NormalizeIdentifier(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidIdentifier
	}
	s = norm.NFC.String(s)
	// cases.Caser is stateful; one per call.
	return cases.Fold().String(s), nil
}

// DisplayIdentifier returns the raw identifier as it should be stored for
// presentation: trimmed, otherwise untouched.
func DisplayIdentifier(raw string) string {
	return strings.TrimSpace(raw)
}
