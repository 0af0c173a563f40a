package rag

import (
	"strings"
	"unicode"
)

// Verification is an advisory measure of how much of an answer's vocabulary
// appears in its sources. It never blocks an answer.
type Verification struct {
	// Coverage is Found/Total as a percentage in [0, 100].
	Coverage float64 `json:"coverage_percent"`
	Found    int     `json:"found_words"`
	Total    int     `json:"total_words"`
	// Empty is set for an answer with no words; Coverage is then 0.
	Empty bool `json:"empty_answer"`
}

// Verify counts answer words, with repetition, that also occur as words in
// the concatenated source text. Matching is case-insensitive and ignores
// punctuation.
func Verify(answer string, sources []RankedResult) Verification {
	words := Tokenize(answer)
	if len(words) == 0 {
		return Verification{Empty: true}
	}

	vocab := make(map[string]struct{})
	for _, src := range sources {
		for _, w := range Tokenize(src.Chunk.Text) {
			vocab[w] = struct{}{}
		}
	}

	found := 0
	for _, w := range words {
		if _, ok := vocab[w]; ok {
			found++
		}
	}

	return Verification{
		Coverage: float64(found) / float64(len(words)) * 100,
		Found:    found,
		Total:    len(words),
	}
}

// Tokenize lowercases s and splits it into runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
