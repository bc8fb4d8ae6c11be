// Package casedata reconciles scraped per-region daily case tables against
// property records, tolerating the name drift between scraped sources and
// the boundary datasets.
package casedata

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritics so "Seymour" and "Séymour" compare equal.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize reduces a region name to a canonical comparison key:
// diacritics stripped, lowercased, punctuation dropped, whitespace
// collapsed to single spaces.
func Normalize(name string) string {
	flat, _, err := transform.String(stripMarks, name)
	if err != nil {
		flat = name
	}

	var b strings.Builder
	b.Grow(len(flat))
	lastSpace := true
	for _, r := range strings.ToLower(flat) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Similarity scores two region names in [0, 1] after normalization.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	return levenshtein.Match(na, nb, nil)
}

// levenshteinScore compares two already-normalized keys.
func levenshteinScore(a, b string) float64 {
	return levenshtein.Match(a, b, nil)
}

// Slug converts a region name to the URL form the case-data source uses:
// lowercased with spaces as dashes.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
