package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider_Deterministic(t *testing.T) {
	// Given: the same text embedded twice
	e := NewStaticProvider()
	defer func() { _ = e.Close() }()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "the search engine indexes documents")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "the search engine indexes documents")
	require.NoError(t, err)

	// Then: vectors are identical
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticProvider_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticProvider()
	defer func() { _ = e.Close() }()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "database replication strategies")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "gardening in early spring")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestStaticProvider_UnitLength(t *testing.T) {
	e := NewStaticProvider()
	defer func() { _ = e.Close() }()

	v, err := e.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 0.001)
}

func TestStaticProvider_EmptyTextZeroVector(t *testing.T) {
	e := NewStaticProvider()
	defer func() { _ = e.Close() }()

	for _, text := range []string{"", "   ", "\n\t"} {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, make([]float32, StaticDimensions), v, "text %q", text)
	}
}

func TestStaticProvider_EmbedBatch(t *testing.T) {
	e := NewStaticProvider()
	defer func() { _ = e.Close() }()
	ctx := context.Background()

	texts := []string{"first", "second", ""}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// Batch results match individual embeds
	single, err := e.Embed(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, single, batch[0])
	assert.Equal(t, make([]float32, StaticDimensions), batch[2])
}

func TestStaticProvider_Metadata(t *testing.T) {
	e := NewStaticProvider()

	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, "static", e.Name())
	assert.Equal(t, "static-hash-256", e.ModelName())
	assert.True(t, e.Available(context.Background()))

	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
	_, err := e.Embed(context.Background(), "after close")
	assert.Error(t, err)
}
