// ABOUTME: Tests for normalization idempotence, Jaccard scoring, and best-match selection
// ABOUTME: Tie-break and threshold-boundary behavior is load-bearing for the classifiers

package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Hola Mundo", "hola mundo"},
		{"diacritics", "¿Cuánto cuesta el baño?", "cuanto cuesta el bano"},
		{"punctuation", "price!!! (today)", "price today"},
		{"whitespace collapse", "  a \t b\n c  ", "a b c"},
		{"digits kept", "20 lbs", "20 lbs"},
		{"empty", "", ""},
		{"only symbols", "¡¿!?", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"¿Cuánto cuesta?", "Hola,  MUNDO!", "já é tarde", "  mixed \t CASE 123 ",
	}
	for _, s := range inputs {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", s)
	}
}

func TestSimilarity(t *testing.T) {
	// Identical token sets regardless of order and duplicates
	assert.Equal(t, 1.0, Similarity("hola mundo", "mundo hola hola"))

	// One shared token out of two distinct
	assert.InDelta(t, 0.5, Similarity("hola mundo", "hola"), 1e-9)

	// Disjoint sets
	assert.Equal(t, 0.0, Similarity("perro", "gato"))

	// Empty input never matches
	assert.Equal(t, 0.0, Similarity("", "algo"))
	assert.Equal(t, 0.0, Similarity("", ""))

	// Diacritics do not break equivalence
	assert.Equal(t, 1.0, Similarity("baño", "bano"))
}

func TestBestMatch_ThresholdIsStrict(t *testing.T) {
	// Score is exactly 0.5; a threshold of 0.5 must exclude it
	assert.Nil(t, BestMatch("hola mundo", []string{"hola"}, 0.5))

	m := BestMatch("hola mundo", []string{"hola"}, 0.49)
	if assert.NotNil(t, m) {
		assert.InDelta(t, 0.5, m.Score, 1e-9)
	}
}

func TestBestMatch_NoCandidateClears(t *testing.T) {
	assert.Nil(t, BestMatch("hola", []string{"adios", "hasta luego"}, 0.1))
	assert.Nil(t, BestMatch("hola", nil, 0))
}

func TestBestMatch_TieKeepsFirstOccurrence(t *testing.T) {
	// Both candidates score 0.5 against the input
	m := BestMatch("hola", []string{"hola amigo", "hola mundo"}, 0.1)
	if assert.NotNil(t, m) {
		assert.Equal(t, 0, m.Index)
		assert.Equal(t, "hola amigo", m.Text)
	}
}

func TestBestMatch_PicksHighest(t *testing.T) {
	m := BestMatch("corte de pelo", []string{"hola", "corte pelo", "corte de pelo perro"}, 0.1)
	if assert.NotNil(t, m) {
		assert.Equal(t, 2, m.Index)
	}
}
