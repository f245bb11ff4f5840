// Package tokenizer turns free text into token sets. It lower-cases input,
// splits on non-alphanumeric boundaries, removes stop-words, applies a simple
// suffix-based stemmer, and can build word shingles so that documents can be
// compared as sets.
package tokenizer

import (
	"strings"
	"unicode"
)

// shingleSep joins the words of a shingle. It cannot occur inside a term.
const shingleSep = " "

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Terms returns the distinct terms of text in first-occurrence order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok.Term]; ok {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, tok.Term)
	}
	return terms
}

// Shingles returns the distinct k-word shingles of text in first-occurrence
// order. Texts with fewer than k terms yield a single shingle of all their
// terms, so short documents still have a non-empty set. k <= 1 is Terms.
func Shingles(text string, k int) []string {
	if k <= 1 {
		return Terms(text)
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	words := make([]string, len(tokens))
	for i, tok := range tokens {
		words[i] = tok.Term
	}
	if len(words) < k {
		return []string{strings.Join(words, shingleSep)}
	}
	seen := make(map[string]struct{}, len(words)-k+1)
	shingles := make([]string, 0, len(words)-k+1)
	for i := 0; i+k <= len(words); i++ {
		sh := strings.Join(words[i:i+k], shingleSep)
		if _, ok := seen[sh]; ok {
			continue
		}
		seen[sh] = struct{}{}
		shingles = append(shingles, sh)
	}
	return shingles
}

// Tokenize breaks text into a slice of stemmed, lowercased Tokens with
// stop-words removed.
func Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words)/2)
	pos := 0
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		stemmed := stem(word)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     stemmed,
			Position: pos,
		})
		pos++
	}
	return tokens
}

var suffixRules = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix that leaves a long enough stem.
func stem(word string) string {
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
