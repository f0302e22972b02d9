// ABOUTME: Diacritic-insensitive normalization, token-set Jaccard similarity, best-match selection
// ABOUTME: Jaccard over word sets is used instead of edit distance: word order is irrelevant here

package textmatch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, drops combining marks, and recomposes,
// turning "café" into "cafe" and "niño" into "nino".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases the input, strips diacritics, replaces every
// non-alphanumeric rune with a space, and collapses runs of whitespace.
// Normalize is idempotent.
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	stripped, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the
		// lowered input so comparisons still work on what we have.
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns the token-set Jaccard similarity of a and b in [0,1]:
// intersection size over union size of their normalized, deduplicated
// word sets. Two empty inputs score 0.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Match is a scored candidate returned by BestMatch.
type Match struct {
	Index int
	Text  string
	Score float64
}

// BestMatch returns the candidate with the highest similarity to text,
// provided that score is strictly above threshold, or nil when no candidate
// clears it. Ties keep the first occurrence in the candidate list, which
// callers rely on for deterministic priority ordering.
func BestMatch(text string, candidates []string, threshold float64) *Match {
	var best *Match
	for i, cand := range candidates {
		score := Similarity(text, cand)
		if score <= threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{Index: i, Text: cand, Score: score}
		}
	}
	return best
}
