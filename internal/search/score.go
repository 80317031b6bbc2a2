package search

import (
	"sort"
	"strings"
)

// Fixed hybrid weights. Semantic similarity dominates; keyword overlap keeps
// exact-phrase hits from drowning when embeddings are noisy.
const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

// keywordScore returns a normalized lexical match of query against doc,
// in [0, 1]. Exact match scores 1.0, a full substring hit 0.8, and partial
// term overlap scales up to 0.6.
func keywordScore(query, doc string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	d := strings.ToLower(doc)
	if q == "" || d == "" {
		return 0
	}
	if d == q {
		return 1.0
	}
	if strings.Contains(d, q) {
		return 0.8
	}
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, t := range terms {
		if strings.Contains(d, t) {
			matched++
		}
	}
	return 0.6 * float64(matched) / float64(len(terms))
}

// combine folds the two component scores per search type.
func combine(searchType Type, semantic, keyword float64) float64 {
	switch searchType {
	case TypeSemantic:
		return semantic
	case TypeKeyword:
		return keyword
	default:
		return semanticWeight*semantic + keywordWeight*keyword
	}
}

// sortResults orders by score descending; ties go to the most recently
// updated ticket, then id for a stable order.
func sortResults(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := results[i].Ticket.UpdatedAt, results[j].Ticket.UpdatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return results[i].Ticket.ID < results[j].Ticket.ID
	})
}
