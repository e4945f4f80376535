package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mofadvisor/internal/model"
)

func TestCosine(t *testing.T) {
	score, ok := Cosine([]float32{1, 0}, []float32{2, 0})
	require.True(t, ok)
	require.InDelta(t, 1.0, score, 1e-9)

	score, ok = Cosine([]float32{1, 0}, []float32{0, 3})
	require.True(t, ok)
	require.InDelta(t, 0.0, score, 1e-9)

	_, ok = Cosine([]float32{1, 0}, []float32{1, 0, 0})
	require.False(t, ok)
	_, ok = Cosine([]float32{0, 0}, []float32{1, 0})
	require.False(t, ok)
}

func TestRankTieBreak(t *testing.T) {
	items := []model.ScoredEntry{
		{Score: 0.9, Entry: model.IndexEntry{DocumentID: "b", Ordinal: 1, IngestedAt: 5}},
		{Score: 0.9, Entry: model.IndexEntry{DocumentID: "a", Ordinal: 0, IngestedAt: 5}},
		{Score: 0.9, Entry: model.IndexEntry{DocumentID: "z", Ordinal: 0, IngestedAt: 9}},
		{Score: 0.95, Entry: model.IndexEntry{DocumentID: "y", Ordinal: 0, IngestedAt: 1}},
		{Score: 0.9, Entry: model.IndexEntry{DocumentID: "b", Ordinal: 0, IngestedAt: 5}},
	}
	Rank(items)
	var got []string
	for _, it := range items {
		got = append(got, it.Entry.DocumentID)
	}
	require.Equal(t, []string{"y", "z", "a", "b", "b"}, got)
	require.Equal(t, 0, items[3].Entry.Ordinal)
}

func TestTopKSkipsMismatchedDimensions(t *testing.T) {
	top := newTopK([]float32{1, 0}, 2)
	top.add(model.IndexEntry{DocumentID: "a", Embedding: []float32{1, 0}})
	top.add(model.IndexEntry{DocumentID: "b", Embedding: []float32{1, 0, 0}})
	res := top.result()
	require.Len(t, res, 1)
	require.Equal(t, "a", res[0].Entry.DocumentID)
}
