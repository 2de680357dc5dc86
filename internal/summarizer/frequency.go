// Package summarizer produces short extractive summaries of ingested documents.
package summarizer

import (
	"math"
	"sort"
	"strings"

	"pdfrag/internal/textutil"
)

// DefaultMaxSentences is used when the caller asks for zero sentences.
const DefaultMaxSentences = 5

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
type FrequencySummarizer struct{}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

// Summarize returns the highest scoring sentences of text in document order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return "", nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range textutil.Tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		words := textutil.Words(sent)
		score := 0.0
		for _, tok := range words {
			score += freq[tok]
		}
		// damp long sentences
		if l := float64(len(words)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	maxSentences = min(maxSentences, len(scores))
	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}
