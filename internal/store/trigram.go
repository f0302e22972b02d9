// ABOUTME: Trigram similarity used by catalog search, pg_trgm style
// ABOUTME: Lives in the store so the resolver only ever sees scored rows

package store

import (
	"strings"

	"github.com/waveline/convocore/internal/textmatch"
)

// trigramSimilarity scores two strings by Jaccard similarity of their
// character-trigram sets, computed over the shared normalized form. Each
// word is padded with two leading and one trailing space before extracting
// trigrams, matching the pg_trgm convention so word starts weigh more.
func trigramSimilarity(a, b string) float64 {
	setA := trigramSet(a)
	setB := trigramSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func trigramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(textmatch.Normalize(s)) {
		padded := "  " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			set[string(runes[i:i+3])] = struct{}{}
		}
	}
	return set
}
