package search

import "sort"

// rankedDoc is one doc_id's position in a single-arm retrieval list.
type rankedDoc struct {
	docID        string
	keywordRank  int // 1-indexed, 0 = absent
	semanticRank int // 1-indexed, 0 = absent
	matchedTerms []string
}

// fuse combines keyword and semantic retrieval lists by reciprocal-rank
// fusion. A document absent from a list contributes 0 for that arm
// (treated as rank infinity, per the fusion contract), rather than a
// penalty rank. Results are ordered by score descending, ties broken by
// keyword rank ascending (0 — i.e. absent — sorts last), then by doc_id
// ascending for determinism.
func fuse(keywordDocIDs []string, semanticDocIDs []string, weights Weights, k int) []rankedDoc {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byDoc := make(map[string]*rankedDoc, len(keywordDocIDs)+len(semanticDocIDs))
	order := make([]string, 0, len(keywordDocIDs)+len(semanticDocIDs))

	get := func(docID string) *rankedDoc {
		if d, ok := byDoc[docID]; ok {
			return d
		}
		d := &rankedDoc{docID: docID}
		byDoc[docID] = d
		order = append(order, docID)
		return d
	}

	for i, id := range keywordDocIDs {
		get(id).keywordRank = i + 1
	}
	for i, id := range semanticDocIDs {
		get(id).semanticRank = i + 1
	}

	scores := make(map[string]float64, len(order))
	for _, id := range order {
		d := byDoc[id]
		var s float64
		if d.keywordRank > 0 {
			s += weights.Keyword / float64(k+d.keywordRank)
		}
		if d.semanticRank > 0 {
			s += weights.Semantic / float64(k+d.semanticRank)
		}
		scores[id] = s
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		ar, br := byDoc[a].keywordRank, byDoc[b].keywordRank
		if ar == 0 {
			ar = int(^uint(0) >> 1)
		}
		if br == 0 {
			br = int(^uint(0) >> 1)
		}
		if ar != br {
			return ar < br
		}
		return a < b
	})

	fused := make([]rankedDoc, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byDoc[id])
	}

	return fused
}

// scoreOf recomputes a document's fused score; kept distinct from fuse's
// internal sort key so callers needing the numeric score for hydration
// or min_score filtering don't need fuse to return parallel slices.
func scoreOf(d rankedDoc, weights Weights, k int) float64 {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	var s float64
	if d.keywordRank > 0 {
		s += weights.Keyword / float64(k+d.keywordRank)
	}
	if d.semanticRank > 0 {
		s += weights.Semantic / float64(k+d.semanticRank)
	}
	return s
}
