package sage_test

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/pkg/options/sage"
)

func TestDefaults(t *testing.T) {
	o := sage.NewOptions()
	require.NoError(t, o.Complete())
	assert.Empty(t, o.Validate())

	assert.Equal(t, 2000, o.ParentChunkSize)
	assert.Equal(t, 200, o.ParentChunkOverlap)
	assert.Equal(t, 400, o.ChildChunkSize)
	assert.Equal(t, 50, o.ChildChunkOverlap)
	assert.Equal(t, 3, o.MaxRecommendations)
	assert.Equal(t, 4, o.RetrievalTopK)
	assert.Equal(t, o.RetrievalTopK, o.RetrievalChildK, "默认检索的子块数与父块数相同")
	assert.Equal(t, filepath.Join(o.CacheDir, "index.gob"), o.IndexPath)
	assert.Equal(t, filepath.Join(o.CacheDir, "docstore.json"), o.DocstorePath)
	assert.False(t, o.NeedsRedis())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *sage.Options)
		errs   int
	}{
		{"重叠不小于块大小", func(o *sage.Options) { o.ChildChunkOverlap = 400 }, 1},
		{"子块大于父块", func(o *sage.Options) { o.ChildChunkSize = 3000; o.ChildChunkOverlap = 10 }, 1},
		{"未知向量后端", func(o *sage.Options) { o.VectorBackend = "faiss" }, 1},
		{"未知画像后端", func(o *sage.Options) { o.ProfileBackend = "mongo" }, 1},
		{"阈值倒置", func(o *sage.Options) { o.RecommendationThresholdLow = 0.9 }, 1},
		{"推荐数为零", func(o *sage.Options) { o.MaxRecommendations = 0 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sage.NewOptions()
			tt.mutate(o)
			assert.Len(t, o.Validate(), tt.errs)
		})
	}
}

func TestFlags(t *testing.T) {
	o := sage.NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--sage.max-recommendations=5",
		"--sage.profile-backend=redis",
		"--sage.cache-dir=/tmp/sage",
		"--sage.retrieval-top-k=6",
		"--sage.retrieval-child-k=20",
	}))
	require.NoError(t, o.Complete())

	assert.Equal(t, 5, o.MaxRecommendations)
	assert.True(t, o.NeedsRedis())
	assert.Equal(t, "/tmp/sage/index.gob", o.IndexPath)
	assert.Equal(t, 6, o.RetrievalTopK)
	assert.Equal(t, 20, o.RetrievalChildK)
}
