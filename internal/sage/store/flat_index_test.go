package store

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/pkg/rag/textutil"
)

var sampleMeta = IndexMeta{Provider: "ollama", Model: "nomic-embed-text"}

func sampleEntries() []IndexEntry {
	return []IndexEntry{
		{ChunkKey: "c1", ParentKey: "p1", Vector: []float32{1, 0, 0}},
		{ChunkKey: "c2", ParentKey: "p1", Vector: []float32{0.9, 0.1, 0}},
		{ChunkKey: "c3", ParentKey: "p2", Vector: []float32{0, 1, 0}},
		{ChunkKey: "c4", ParentKey: "p3", Vector: []float32{0, 0, 1}},
	}
}

func TestFlatIndexQueryOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex(filepath.Join(t.TempDir(), "index.gob"))
	require.NoError(t, idx.Build(ctx, sampleMeta, sampleEntries()))
	assert.Equal(t, 4, idx.Len())

	hits, err := idx.Query(ctx, []float32{1, 0.05, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "p1", hits[0].ParentKey)
	assert.Equal(t, "p1", hits[1].ParentKey)
	assert.Equal(t, "p2", hits[2].ParentKey)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestFlatIndexPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache", "index.gob")

	idx := NewFlatIndex(path)
	assert.ErrorIs(t, idx.Load(ctx), ErrIndexNotFound)

	require.NoError(t, idx.Build(ctx, sampleMeta, sampleEntries()))
	require.NoError(t, idx.Save(ctx))

	restored := NewFlatIndex(path)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, idx.Len(), restored.Len())
	assert.Equal(t, IndexMeta{Provider: "ollama", Model: "nomic-embed-text", Dim: 3}, restored.Meta())

	want, err := idx.Query(ctx, []float32{0, 0.2, 1}, 2)
	require.NoError(t, err)
	got, err := restored.Query(ctx, []float32{0, 0.2, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFlatIndexRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatIndex(filepath.Join(t.TempDir(), "index.gob"))

	err := idx.Build(ctx, sampleMeta, []IndexEntry{
		{ChunkKey: "a", ParentKey: "p", Vector: []float32{1, 0}},
		{ChunkKey: "b", ParentKey: "p", Vector: []float32{1, 0, 0}},
	})
	var dimErr *textutil.DimensionError
	assert.ErrorAs(t, err, &dimErr)

	assert.Error(t, idx.Build(ctx, sampleMeta, []IndexEntry{{ChunkKey: "a", Vector: []float32{1}}}))

	require.NoError(t, idx.Build(ctx, sampleMeta, sampleEntries()))
	_, err = idx.Query(ctx, []float32{1, 0}, 2)
	assert.ErrorAs(t, err, &dimErr)

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFlatIndexRejectsOldVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gob.NewEncoder(f).Encode(&flatIndexFile{Version: 1, Entries: sampleEntries()}))
	require.NoError(t, f.Close())

	err = NewFlatIndex(path).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIndexNotFound)
	assert.Contains(t, err.Error(), "unsupported version 1")
}

func TestIndexMetaSameModel(t *testing.T) {
	a := IndexMeta{Provider: "ollama", Model: "nomic-embed-text", Dim: 768}
	assert.True(t, a.SameModel(IndexMeta{Provider: "ollama", Model: "nomic-embed-text", Dim: 4}))
	assert.False(t, a.SameModel(IndexMeta{Provider: "ollama", Model: "mxbai-embed-large"}))
	assert.False(t, a.SameModel(IndexMeta{Provider: "openai", Model: "nomic-embed-text"}))
}
