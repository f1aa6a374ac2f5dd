package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/model"
)

func TestDocStore(t *testing.T) {
	parents := []model.Chunk{
		{Key: "k2", Content: "second", SourcePath: "kb/02_b.md", TopicID: "02_b"},
		{Key: "k1", Content: "first", SourcePath: "kb/01_a.md", TopicID: "01_a"},
	}

	s, err := NewDocStore(parents)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, parents, s.All())

	c, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "01_a", c.TopicID)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	path := filepath.Join(t.TempDir(), "docstore.json")
	require.NoError(t, s.Save(path))

	loaded, err := LoadDocStore(path)
	require.NoError(t, err)
	assert.Equal(t, s.All(), loaded.All())
}

func TestDocStoreRejectsInvalidChunks(t *testing.T) {
	_, err := NewDocStore([]model.Chunk{{Key: "c", ParentKey: "p"}})
	assert.Error(t, err)

	_, err = NewDocStore([]model.Chunk{{Key: "p"}, {Key: "p"}})
	assert.Error(t, err)
}
