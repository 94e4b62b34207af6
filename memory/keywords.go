package memory

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hupe1980/taskmesh/core"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "what": {}, "that": {}, "this": {},
	"are": {}, "was": {}, "you": {}, "your": {}, "from": {}, "into": {}, "how": {},
	"who": {}, "why": {}, "when": {}, "where": {}, "does": {}, "can": {}, "will": {},
}

// Keywords reduces text to distinct lower-case search terms. Terms shorter
// than three runes and common stopwords are dropped.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))

	var terms []string

	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}

		if _, stop := stopwords[f]; stop {
			continue
		}

		if _, dup := seen[f]; dup {
			continue
		}

		seen[f] = struct{}{}
		terms = append(terms, f)
	}

	return terms
}

// Score returns the fraction of terms contained in content (0..1).
func Score(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}

	lower := strings.ToLower(content)
	hits := 0

	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}

	return float64(hits) / float64(len(terms))
}

// Rank scores candidates against query, drops non-matching items and orders
// the rest by score (descending). Ties keep the candidate order. An empty
// query matches everything with score zero.
func Rank(candidates []core.MemoryItem, query string, limit int) []core.MemoryItem {
	terms := Keywords(query)

	out := make([]core.MemoryItem, 0, len(candidates))

	for _, it := range candidates {
		if len(terms) > 0 {
			it.Score = Score(it.Content, terms)
			if it.Score == 0 {
				continue
			}
		}

		out = append(out, it)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}
