package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docKeys(results []*FusedResult) []string {
	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.DocKey
	}
	return keys
}

func TestFuseMinMax_BothLegs(t *testing.T) {
	// Given: overlapping keyword and embedding legs
	keyword := []Scored{
		{DocKey: "a", Score: 10},
		{DocKey: "b", Score: 5},
		{DocKey: "c", Score: 0},
	}
	embedding := []Scored{
		{DocKey: "c", Score: 1.0},
		{DocKey: "a", Score: 0.5},
	}

	// When: fusing with alpha 0.5
	fused := FuseMinMax(keyword, embedding, 0.5)

	// Then: scores are min-max normalized per leg before combining.
	// kwNorm: a=1, b=0.5, c=0; embNorm: c=1, a=0.
	// a = 0.5*0 + 0.5*1 = 0.5; c = 0.5*1 + 0.5*0 = 0.5; b = 0.5*0.5 = 0.25.
	// a and c tie on fused score; a wins on raw keyword score.
	require.Equal(t, []string{"a", "c", "b"}, docKeys(fused))
	assert.InDelta(t, 0.5, fused[0].Score, 1e-9)
	assert.InDelta(t, 0.5, fused[1].Score, 1e-9)
	assert.InDelta(t, 0.25, fused[2].Score, 1e-9)

	// Raw scores are preserved alongside the fused one
	assert.Equal(t, 10.0, fused[0].KeywordScore)
	assert.Equal(t, 1.0, fused[1].EmbeddingScore)
}

func TestFuseMinMax_AlphaZeroMatchesKeywordRanking(t *testing.T) {
	// Given: legs that disagree on ordering
	keyword := []Scored{
		{DocKey: "a", Score: 3.2},
		{DocKey: "b", Score: 2.1},
		{DocKey: "c", Score: 1.0},
	}
	embedding := []Scored{
		{DocKey: "c", Score: 0.9},
		{DocKey: "b", Score: 0.8},
		{DocKey: "d", Score: 0.7},
	}

	// When: alpha is 0
	fused := FuseMinMax(keyword, embedding, 0)

	// Then: keyword candidates keep their keyword ranking; embedding-only
	// candidates contribute nothing and sink to the bottom
	require.Equal(t, []string{"a", "b", "c", "d"}, docKeys(fused))
	assert.Equal(t, 0.0, fused[3].Score)
}

func TestFuseMinMax_AlphaOneMatchesEmbeddingRanking(t *testing.T) {
	keyword := []Scored{
		{DocKey: "a", Score: 3.2},
		{DocKey: "b", Score: 2.1},
	}
	embedding := []Scored{
		{DocKey: "c", Score: 0.9},
		{DocKey: "b", Score: 0.8},
		{DocKey: "d", Score: 0.7},
	}

	fused := FuseMinMax(keyword, embedding, 1)

	// The embedding ranking survives among embedding candidates. "a" is
	// keyword-only and scores 0, tying with "d" (the embedding minimum);
	// the keyword-score tie-break places "a" ahead of "d".
	require.Equal(t, []string{"c", "b", "a", "d"}, docKeys(fused))
	assert.Equal(t, 0.0, fused[2].Score)

	embeddingOnly := make([]string, 0, 3)
	for _, k := range docKeys(fused) {
		if k != "a" {
			embeddingOnly = append(embeddingOnly, k)
		}
	}
	assert.Equal(t, []string{"c", "b", "d"}, embeddingOnly)
}

func TestFuseMinMax_SingleEntryNormalizesToOne(t *testing.T) {
	// Given: a single-hit keyword leg with an arbitrary raw score
	fused := FuseMinMax([]Scored{{DocKey: "only", Score: 42.5}}, nil, 0.5)

	// Then: no divide-by-zero; the lone entry normalizes to 1.0
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.5, fused[0].Score, 1e-9)
	assert.Equal(t, 42.5, fused[0].KeywordScore)
}

func TestFuseMinMax_AllEqualScoresNormalizeToOne(t *testing.T) {
	keyword := []Scored{
		{DocKey: "a", Score: 7},
		{DocKey: "b", Score: 7},
		{DocKey: "c", Score: 7},
	}

	fused := FuseMinMax(keyword, nil, 0)

	// All-equal legs normalize to 1.0 for every entry; ties resolve by
	// first-appearance order
	require.Equal(t, []string{"a", "b", "c"}, docKeys(fused))
	for _, r := range fused {
		assert.InDelta(t, 1.0, r.Score, 1e-9)
	}
}

func TestFuseMinMax_EmptyLegs(t *testing.T) {
	fused := FuseMinMax(nil, nil, 0.5)

	require.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuseMinMax_AlphaClamped(t *testing.T) {
	embedding := []Scored{{DocKey: "x", Score: 0.4}}

	low := FuseMinMax(nil, embedding, -3)
	high := FuseMinMax(nil, embedding, 7)

	assert.Equal(t, 0.0, low[0].Score)
	assert.InDelta(t, 1.0, high[0].Score, 1e-9)
}
