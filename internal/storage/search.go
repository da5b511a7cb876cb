package storage

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Benny93/depgraph/internal/graph"
)

var (
	separatorRe = regexp.MustCompile(`[_\.\-\s/]+`)
	camelRe     = regexp.MustCompile(`([a-z])([A-Z])`)
	letterNumRe = regexp.MustCompile(`([a-zA-Z])(\d)`)
	numLetterRe = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// tokenize splits an identifier into searchable tokens.
// Handles camelCase, snake_case, dot notation and digit boundaries.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}

	tokens := make(map[string]bool)
	tokens[strings.ToLower(text)] = true

	for _, part := range separatorRe.Split(text, -1) {
		if part == "" {
			continue
		}
		tokens[strings.ToLower(part)] = true

		// "UserService" -> "User", "Service"
		for _, w := range strings.Fields(camelRe.ReplaceAllString(part, "$1 $2")) {
			tokens[strings.ToLower(w)] = true
		}

		// "HTTP2" -> "HTTP", "2"
		split := letterNumRe.ReplaceAllString(part, "$1 $2")
		split = numLetterRe.ReplaceAllString(split, "$1 $2")
		for _, w := range strings.Fields(split) {
			tokens[strings.ToLower(w)] = true
		}
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		if token != "" {
			result = append(result, token)
		}
	}
	sort.Strings(result)
	return result
}

// recordTokens returns the token frequencies of a record: its name counts
// twice so that exact name hits outrank qualified-path hits.
func recordTokens(r *Record) map[string]int {
	freq := make(map[string]int)
	for _, t := range tokenize(r.Name) {
		freq[t] += 2
	}
	for _, t := range tokenize(r.QualifiedName) {
		freq[t]++
	}
	return freq
}

// searchable reports whether a record takes part in name search.
func searchable(r *Record) bool {
	switch r.Kind {
	case graph.KindFile, graph.KindBlock, graph.KindVariable:
		return false
	}
	return r.Name != ""
}

// rankResults sorts by score descending, then by id, and applies limit.
func rankResults(scores map[graph.EntityID]float64, lookup func(graph.EntityID) *Record, limit int) []SearchResult {
	results := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		rec := lookup(id)
		if rec == nil {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
