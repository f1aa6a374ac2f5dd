package store

import (
	"fmt"
	"os"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/docutil"
	"github.com/kart-io/sage/pkg/utils/json"
)

// DocStore 父块键到父块的映射，构建后只读，以单个 JSON 文件持久化。
type DocStore struct {
	order  []string
	chunks map[string]model.Chunk
}

// NewDocStore 由父块构建文档库并保持原有顺序。
func NewDocStore(parents []model.Chunk) (*DocStore, error) {
	s := &DocStore{
		order:  make([]string, 0, len(parents)),
		chunks: make(map[string]model.Chunk, len(parents)),
	}
	for _, c := range parents {
		if !c.IsParent() {
			return nil, fmt.Errorf("chunk %s is not a parent chunk", c.Key)
		}
		if _, dup := s.chunks[c.Key]; dup {
			return nil, fmt.Errorf("duplicate parent key %s", c.Key)
		}
		s.order = append(s.order, c.Key)
		s.chunks[c.Key] = c
	}
	return s, nil
}

// Get 返回 key 对应的父块。
func (s *DocStore) Get(key string) (model.Chunk, bool) {
	c, ok := s.chunks[key]
	return c, ok
}

// All 按插入顺序返回全部父块。
func (s *DocStore) All() []model.Chunk {
	out := make([]model.Chunk, len(s.order))
	for i, k := range s.order {
		out[i] = s.chunks[k]
	}
	return out
}

// Len 返回父块数量。
func (s *DocStore) Len() int {
	return len(s.order)
}

// Save 原子写入 path。
func (s *DocStore) Save(path string) error {
	data, err := json.Marshal(s.All())
	if err != nil {
		return err
	}
	return docutil.WriteBytesAtomic(path, data)
}

// LoadDocStore 读取 Save 写出的文档库。
func LoadDocStore(path string) (*DocStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parents []model.Chunk
	if err := json.Unmarshal(data, &parents); err != nil {
		return nil, fmt.Errorf("decode document store %s: %w", path, err)
	}
	return NewDocStore(parents)
}
