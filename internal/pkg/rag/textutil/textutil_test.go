package textutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/pkg/rag/textutil"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{"相同向量", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"正交向量", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"相反向量", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"空向量", []float32{}, []float32{}, 0.0},
		{"长度不匹配", []float32{1, 2}, []float32{1}, 0.0},
		{"零向量", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, textutil.CosineSimilarity(tt.a, tt.b), 0.0001)
		})
	}
}

func TestBlend(t *testing.T) {
	t.Run("首次更新直接采用新向量", func(t *testing.T) {
		next := []float32{0.25, -1.5, 3}
		got, err := textutil.Blend(nil, next, 0.2)
		require.NoError(t, err)
		assert.Equal(t, next, got)

		// 返回副本，不与入参共享底层数组
		next[0] = 99
		assert.Equal(t, float32(0.25), got[0])
	})

	t.Run("指数移动平均", func(t *testing.T) {
		prev := []float32{1, 0, 2}
		next := []float32{0, 1, -2}
		got, err := textutil.Blend(prev, next, 0.2)
		require.NoError(t, err)
		want := []float32{0.8, 0.2, 1.2}
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-6)
		}
	})

	t.Run("维度不一致", func(t *testing.T) {
		_, err := textutil.Blend([]float32{1, 2}, []float32{1}, 0.2)
		var dimErr *textutil.DimensionError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 2, dimErr.Want)
		assert.Equal(t, 1, dimErr.Got)
	})
}

func TestMean(t *testing.T) {
	got, err := textutil.Mean([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, got)

	got, err = textutil.Mean(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = textutil.Mean([][]float32{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestHashString(t *testing.T) {
	hash1 := textutil.HashString("test")
	assert.Equal(t, hash1, textutil.HashString("test"))
	assert.NotEqual(t, hash1, textutil.HashString("different"))
	assert.Len(t, hash1, 32)
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"短于限制", "hello", 10, "hello"},
		{"等于限制", "hello", 5, "hello"},
		{"超过限制", "hello world", 5, "hello"},
		{"中文字符", "你好世界", 2, "你好"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textutil.TruncateString(tt.input, tt.maxLen))
		})
	}
}
