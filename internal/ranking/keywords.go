package ranking

import (
	"regexp"
	"sort"
	"strings"
)

var wordPattern = regexp.MustCompile(`\b\w{3,}\b`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
		"by", "from", "up", "about", "into", "through", "during", "before", "after",
		"above", "below", "over", "under", "again", "further", "then", "once", "here",
		"there", "when", "where", "why", "how", "all", "any", "both", "each", "few",
		"more", "most", "other", "some", "such", "no", "nor", "not", "only", "own",
		"same", "so", "than", "too", "very", "can", "will", "just", "should", "now",
		"is", "are", "was", "were", "be", "been", "being", "have", "has", "had",
		"do", "does", "did", "would", "could", "may", "might", "must",
	} {
		stopWords[w] = struct{}{}
	}
}

func isStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// ExtractKeywords returns the most frequent non stop-word tokens of at least
// three word characters across texts, most frequent first. Ties keep the
// order in which the words first appeared.
func ExtractKeywords(texts []string, limit int) []string {
	all := strings.ToLower(strings.Join(texts, " "))

	freq := make(map[string]int)
	var order []string
	for _, word := range wordPattern.FindAllString(all, -1) {
		if isStopWord(word) {
			continue
		}
		if freq[word] == 0 {
			order = append(order, word)
		}
		freq[word]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	return order
}

// keywordOverlap is |a ∩ b| / max(|a|, |b|) over the distinct words of each
// list, or 0 when either is empty.
func keywordOverlap(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}

	return float64(shared) / float64(max(len(setA), len(setB)))
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
