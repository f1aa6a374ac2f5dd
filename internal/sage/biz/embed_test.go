package biz_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/sage/biz"
	"github.com/kart-io/sage/pkg/infra/pool"
)

func TestBatchEmbedderKeepsOrder(t *testing.T) {
	p, err := pool.NewPool("embed-test", pool.EmbedPool, pool.EmbedPoolConfig())
	require.NoError(t, err)
	defer p.Release()

	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("alpha %d %s", i, strings.Repeat("beta ", i))
	}

	e := &keywordEmbedder{}
	vectors, err := biz.NewBatchEmbedder(e, p, 5).EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, keywordVector(texts[i]), v)
	}
	assert.Equal(t, int64(len(texts)), e.texts.Load())
}

func TestBatchEmbedderPropagatesFailure(t *testing.T) {
	e := &keywordEmbedder{}
	e.fail.Store(true)
	_, err := biz.NewBatchEmbedder(e, nil, 2).EmbedAll(context.Background(), []string{"a", "b", "c"})
	assert.Error(t, err)
}
