package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/docutil"
	"github.com/kart-io/sage/internal/pkg/rag/textutil"
)

const flatIndexVersion = 2

// flatIndexFile FlatIndex 的磁盘格式。
type flatIndexFile struct {
	Version int
	Meta    IndexMeta
	Entries []IndexEntry
}

// FlatIndex 内存中的精确余弦相似度索引，以 gob 文件持久化。
type FlatIndex struct {
	path string

	mu      sync.RWMutex
	meta    IndexMeta
	entries []IndexEntry
}

// NewFlatIndex 创建持久化到 path 的空索引。
func NewFlatIndex(path string) *FlatIndex {
	return &FlatIndex{path: path}
}

// Build 替换索引内容，所有向量必须同维。
func (f *FlatIndex) Build(_ context.Context, meta IndexMeta, entries []IndexEntry) error {
	dim := 0
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %d (%s): empty vector", i, e.ChunkKey)
		}
		if e.ParentKey == "" {
			return fmt.Errorf("entry %d (%s): missing parent key", i, e.ChunkKey)
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return &textutil.DimensionError{Want: dim, Got: len(e.Vector)}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	meta.Dim = dim
	f.meta = meta
	f.entries = append([]IndexEntry(nil), entries...)
	return nil
}

// Save 原子写入索引文件。
func (f *FlatIndex) Save(_ context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data := flatIndexFile{Version: flatIndexVersion, Meta: f.meta, Entries: f.entries}
	return docutil.WriteFileAtomic(f.path, func(w *os.File) error {
		return gob.NewEncoder(w).Encode(&data)
	})
}

// Load 读取已持久化的索引，旧版本格式视为不可用。
func (f *FlatIndex) Load(_ context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrIndexNotFound
		}
		return err
	}
	defer file.Close()

	var data flatIndexFile
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("decode index %s: %w", f.path, err)
	}
	if data.Version != flatIndexVersion {
		return fmt.Errorf("index %s: unsupported version %d", f.path, data.Version)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta = data.Meta
	f.entries = data.Entries
	return nil
}

// Meta 返回索引元数据。
func (f *FlatIndex) Meta() IndexMeta {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta
}

// Query 为全部条目打分并返回前 k 条，同分保持索引顺序。
func (f *FlatIndex) Query(_ context.Context, vector []float32, k int) ([]model.Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.entries) == 0 {
		return nil, nil
	}
	if len(vector) != f.meta.Dim {
		return nil, &textutil.DimensionError{Want: f.meta.Dim, Got: len(vector)}
	}

	hits := make([]model.Hit, len(f.entries))
	for i, e := range f.entries {
		hits[i] = model.Hit{ParentKey: e.ParentKey, Score: textutil.CosineSimilarity(vector, e.Vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len 返回已索引的向量数。
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

var _ VectorIndex = (*FlatIndex)(nil)
