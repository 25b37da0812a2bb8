// Package search executes queries over a collection's keyword and vector
// indexes. Hybrid queries run both legs concurrently and combine them with
// alpha-weighted min-max score fusion: each leg's scores are normalized to
// [0,1] independently, then fused_score = alpha*embedding + (1-alpha)*keyword.
package search

import "sort"

// Scored is one entry of a single search leg prior to fusion.
type Scored struct {
	DocKey string
	Score  float64
}

// FusedResult is one candidate document after fusing the two legs.
type FusedResult struct {
	DocKey         string
	Score          float64 // alpha-weighted combination of the normalized legs
	KeywordScore   float64 // raw keyword relevance (0 if absent from that leg)
	EmbeddingScore float64 // raw embedding similarity (0 if absent)

	keywordNorm float64
	order       int // first-appearance order, for stable tie-breaking
}

// FuseMinMax combines the keyword and embedding result lists.
//
// Each leg is min-max normalized independently. Candidates absent from one
// leg contribute 0 on that side. alpha=0 reduces to the keyword ranking
// over the union candidate set, alpha=1 to the embedding ranking.
//
// Sorted by fused score descending, ties broken by raw keyword score
// descending, then by first-appearance order (keyword leg first).
func FuseMinMax(keyword, embedding []Scored, alpha float64) []*FusedResult {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	if len(keyword) == 0 && len(embedding) == 0 {
		return []*FusedResult{}
	}

	kwNorm := normalizeScores(keyword)
	embNorm := normalizeScores(embedding)

	candidates := make(map[string]*FusedResult, len(keyword)+len(embedding))
	ordered := make([]*FusedResult, 0, len(keyword)+len(embedding))

	for i, s := range keyword {
		r := &FusedResult{
			DocKey:       s.DocKey,
			KeywordScore: s.Score,
			keywordNorm:  kwNorm[i],
			order:        len(ordered),
		}
		candidates[s.DocKey] = r
		ordered = append(ordered, r)
	}
	for i, s := range embedding {
		r, ok := candidates[s.DocKey]
		if !ok {
			r = &FusedResult{DocKey: s.DocKey, order: len(ordered)}
			candidates[s.DocKey] = r
			ordered = append(ordered, r)
		}
		r.EmbeddingScore = s.Score
		r.Score = alpha*embNorm[i] + (1-alpha)*r.keywordNorm
	}

	// Candidates seen only in the keyword leg never took the fused
	// assignment above.
	for _, r := range ordered {
		if r.Score == 0 && r.keywordNorm > 0 {
			r.Score = (1 - alpha) * r.keywordNorm
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.order < b.order
	})

	return ordered
}

// normalizeScores maps a leg's raw scores onto [0,1] with min-max scaling.
// A single-entry list, or one where every score is equal, normalizes to 1.0
// for all entries so no divide-by-zero occurs.
func normalizeScores(leg []Scored) []float64 {
	if len(leg) == 0 {
		return nil
	}

	min, max := leg[0].Score, leg[0].Score
	for _, s := range leg[1:] {
		if s.Score < min {
			min = s.Score
		}
		if s.Score > max {
			max = s.Score
		}
	}

	norm := make([]float64, len(leg))
	if max == min {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}
	for i, s := range leg {
		norm[i] = (s.Score - min) / (max - min)
	}
	return norm
}
