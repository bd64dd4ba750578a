package categorize

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/pkg/utils"
)

// minSummaryWordLen excludes short words from summaries; only longer words count.
const minSummaryWordLen = 4

// Summarize maps each label present in labels to the most frequent words (longer than
// three characters) across its prompts, most frequent first and ties broken
// alphabetically. The noise label is summarized as "noise". A cluster with no
// qualifying words gets an empty summary.
func Summarize(prompts []string, labels []int, topWords int) map[int]string {
	if topWords <= 0 {
		topWords = 5
	}
	counts := map[int]map[string]int{}
	for i, label := range labels {
		if _, ok := counts[label]; !ok {
			counts[label] = map[string]int{}
		}
		if label == models.NoiseLabel || i >= len(prompts) {
			continue
		}
		for _, w := range utils.Words(prompts[i]) {
			if utf8.RuneCountInString(w) >= minSummaryWordLen {
				counts[label][w]++
			}
		}
	}

	out := make(map[int]string, len(counts))
	for label, freq := range counts {
		if label == models.NoiseLabel {
			out[label] = "noise"
			continue
		}
		words := make([]string, 0, len(freq))
		for w := range freq {
			words = append(words, w)
		}
		sort.Slice(words, func(i, j int) bool {
			if freq[words[i]] != freq[words[j]] {
				return freq[words[i]] > freq[words[j]]
			}
			return words[i] < words[j]
		})
		if len(words) > topWords {
			words = words[:topWords]
		}
		out[label] = strings.Join(words, ", ")
	}
	return out
}
