package tracker

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity returns the Ratcliff/Obershelp sequence ratio 2*M/T of two
// fingerprints, where M is the number of symbols in matching blocks and T the
// total symbol count. Identical strings score 1, disjoint ones 0.
//
// The arguments are put in a canonical order first, so the result does not
// depend on which fingerprint is passed first.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if b < a {
		a, b = b, a
	}
	m := difflib.NewMatcher(symbols(a), symbols(b))
	return m.Ratio()
}

func symbols(s string) []string {
	return strings.Split(s, "")
}
