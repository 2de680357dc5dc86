// Package textutil holds the tokenizer and sentence splitter shared by the
// local embedder, the summarizer and the TUI highlighter.
package textutil

import (
	"regexp"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)
	stopwords  = buildStopwords()
)

// Words returns the lowercased word tokens of text, stopwords included.
func Words(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// Tokens returns the lowercased word tokens of text with stopwords removed.
func Tokens(text string) []string {
	raw := Words(text)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TokenSet returns the distinct lowercased words of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Words(text)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Sentences splits text after runs of terminal punctuation. A trailing
// fragment without a terminator is kept as the last sentence.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsStopword reports whether the lowercased token is an English stopword.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

func buildStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
