package knowledge

import (
	"math"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true, "which": true,
	"that": true, "this": true, "are": true, "was": true, "you": true, "your": true,
	"can": true, "how": true, "does": true, "should": true, "would": true, "about": true,
	"from": true, "have": true, "has": true, "into": true, "wine": true, "wines": true,
}

// Terms lowercases query and returns its distinct content words.
func Terms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range tokenize(query) {
		if len([]rune(w)) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// score weighs coverage of distinct terms first and frequency second.
func score(terms []string, content string) float64 {
	counts := make(map[string]int)
	for _, w := range tokenize(content) {
		counts[w]++
	}
	var matched int
	var freq float64
	for _, t := range terms {
		if c := counts[t]; c > 0 {
			matched++
			freq += math.Log1p(float64(c))
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched)/float64(len(terms)) + 0.01*freq
}
