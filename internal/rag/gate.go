package rag

import "github.com/koopa0/faqbot/internal/faq"

// Accept is the confidence gate: it decides whether a ranked retrieval
// list contains a match confident enough to answer from. Pure function,
// no side effects.
//
// Returns false for an empty list, and false when the nearest result's
// distance exceeds the threshold. matches must be sorted by ascending
// distance, which is what Store.SearchNearest produces.
func Accept(matches []faq.Match, threshold float64) bool {
	if len(matches) == 0 {
		return false
	}
	return matches[0].Distance <= threshold
}
