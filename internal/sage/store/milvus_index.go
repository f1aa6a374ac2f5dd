package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/pkg/component/milvus"
	"github.com/kart-io/sage/pkg/utils/json"
)

const (
	fieldChunkKey  = "chunk_key"
	fieldParentKey = "parent_key"

	milvusInsertBatch = 1000

	collectionDescription = "sage child chunk vectors"
	metaMarker            = "; meta="
)

// MilvusClient MilvusIndex 使用的 Milvus 操作，*milvus.Client 实现了该接口。
type MilvusClient interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	DropCollection(ctx context.Context, name string) error
	LoadCollection(ctx context.Context, name string) error
	CollectionDescription(ctx context.Context, name string) (string, error)
	GetCollectionStats(ctx context.Context, name string) (int64, error)
	Insert(ctx context.Context, name string, data *milvus.InsertData) (int, error)
	Search(ctx context.Context, name string, vector []float32, topK int, outputFields []string) ([]milvus.SearchResult, error)
}

var _ MilvusClient = (*milvus.Client)(nil)

// MilvusIndex 基于 Milvus 集合（COSINE 度量）的子块向量索引。
// 集合本身即持久化形式，Save 不做任何事；索引元数据写在集合描述中。
type MilvusIndex struct {
	client     MilvusClient
	collection string
	size       int
	meta       IndexMeta
}

// NewMilvusIndex 创建使用指定集合的索引。
func NewMilvusIndex(client MilvusClient, collection string) *MilvusIndex {
	return &MilvusIndex{client: client, collection: collection}
}

// Build 删除并重建集合，然后写入全部条目。
func (m *MilvusIndex) Build(ctx context.Context, meta IndexMeta, entries []IndexEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("milvus index: no entries to build")
	}
	meta.Dim = len(entries[0].Vector)

	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return err
	}
	if exists {
		logger.Infow("Dropping stale milvus collection", "collection", m.collection)
		if err := m.client.DropCollection(ctx, m.collection); err != nil {
			return err
		}
	}

	desc, err := encodeDescription(meta)
	if err != nil {
		return err
	}
	if err := m.client.CreateCollection(ctx, &milvus.CollectionSchema{
		Name:        m.collection,
		Description: desc,
		Dimension:   meta.Dim,
		Metric:      entity.COSINE,
		MetaFields: []milvus.MetaField{
			{Name: fieldChunkKey, MaxLen: 64},
			{Name: fieldParentKey, MaxLen: 64},
		},
	}); err != nil {
		return err
	}

	inserted := 0
	for start := 0; start < len(entries); start += milvusInsertBatch {
		end := min(start+milvusInsertBatch, len(entries))
		batch := entries[start:end]

		data := &milvus.InsertData{
			Embeddings: make([][]float32, len(batch)),
			Metadata: map[string][]string{
				fieldChunkKey:  make([]string, len(batch)),
				fieldParentKey: make([]string, len(batch)),
			},
		}
		for i, e := range batch {
			data.Embeddings[i] = e.Vector
			data.Metadata[fieldChunkKey][i] = e.ChunkKey
			data.Metadata[fieldParentKey][i] = e.ParentKey
		}

		n, err := m.client.Insert(ctx, m.collection, data)
		if err != nil {
			return err
		}
		inserted += n
	}

	m.size = inserted
	m.meta = meta
	logger.Infow("Milvus index built", "collection", m.collection, "vectors", inserted, "dim", meta.Dim)
	return nil
}

// Save 不做任何事，写入已在 Build 中刷盘。
func (m *MilvusIndex) Save(context.Context) error {
	return nil
}

// Load 确认集合存在且非空，读取元数据并加载集合以供检索。
// 描述中没有可识别的元数据时返回零值元数据，由调用方决定重建。
func (m *MilvusIndex) Load(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return err
	}
	if !exists {
		return ErrIndexNotFound
	}

	count, err := m.client.GetCollectionStats(ctx, m.collection)
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrIndexNotFound
	}

	desc, err := m.client.CollectionDescription(ctx, m.collection)
	if err != nil {
		return err
	}
	if err := m.client.LoadCollection(ctx, m.collection); err != nil {
		return err
	}
	m.size = int(count)
	m.meta = decodeDescription(desc)
	return nil
}

// Meta 返回索引元数据。
func (m *MilvusIndex) Meta() IndexMeta {
	return m.meta
}

// Query 在集合中检索 k 个最近的子块向量。
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, k int) ([]model.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	results, err := m.client.Search(ctx, m.collection, vector, k, []string{fieldParentKey})
	if err != nil {
		return nil, err
	}

	hits := make([]model.Hit, 0, len(results))
	for _, r := range results {
		parent := r.Metadata[fieldParentKey]
		if parent == "" {
			continue
		}
		hits = append(hits, model.Hit{ParentKey: parent, Score: float64(r.Score)})
	}
	return hits, nil
}

// Len 返回已索引的向量数。
func (m *MilvusIndex) Len() int {
	return m.size
}

func encodeDescription(meta IndexMeta) (string, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return collectionDescription + metaMarker + string(data), nil
}

func decodeDescription(desc string) IndexMeta {
	var meta IndexMeta
	_, raw, ok := strings.Cut(desc, metaMarker)
	if !ok {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		logger.Warnw("Unreadable milvus collection metadata", "error", err.Error())
		return IndexMeta{}
	}
	return meta
}

var _ VectorIndex = (*MilvusIndex)(nil)
