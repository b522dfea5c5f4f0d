package telemetry

import (
	"strings"
	"unicode"
)

// Keyword lexicons for the sentiment heuristic. This is word counting, not a
// trained classifier: negation ("not helpful") still counts as positive.
var (
	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "excellent": {}, "helpful": {},
		"clear": {}, "useful": {}, "perfect": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "poor": {}, "unclear": {}, "confusing": {},
		"wrong": {}, "useless": {}, "terrible": {},
	}
)

// AnalyzeSentiment classifies text by comparing positive and negative keyword hits.
func AnalyzeSentiment(text string) Sentiment {
	positive, negative := 0, 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if _, ok := positiveWords[word]; ok {
			positive++
		}
		if _, ok := negativeWords[word]; ok {
			negative++
		}
	}

	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// WordCount counts whitespace-delimited tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// SentimentScore maps a sentiment onto +1/0/-1 for averaging.
func SentimentScore(s Sentiment) float64 {
	switch s {
	case SentimentPositive:
		return 1
	case SentimentNegative:
		return -1
	default:
		return 0
	}
}
