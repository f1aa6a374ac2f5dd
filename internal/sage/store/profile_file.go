package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/docutil"
	"github.com/kart-io/sage/pkg/utils/json"
)

// FileProfileStore 将全部画像保存在一个 JSON 文件中，每次变更原子重写。
// 所有变更共用一个文件，由同一把锁串行化。
type FileProfileStore struct {
	path string

	mu       sync.Mutex
	profiles map[string]*model.Profile
}

// OpenFileProfileStore 打开画像文件，文件不存在时从空开始。
func OpenFileProfileStore(path string) (*FileProfileStore, error) {
	s := &FileProfileStore{path: path, profiles: make(map[string]*model.Profile)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, err
	case len(data) == 0:
		return s, nil
	}

	if err := json.Unmarshal(data, &s.profiles); err != nil {
		return nil, fmt.Errorf("decode profiles %s: %w", path, err)
	}
	return s, nil
}

// Load 返回画像副本。
func (s *FileProfileStore) Load(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID].Clone(), nil
}

// Save 覆盖画像并重写文件。
func (s *FileProfileStore) Save(_ context.Context, userID string, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(userID, p.Clone())
}

// Update 在副本上执行 fn，fn 与写文件都成功后才提交。
func (s *FileProfileStore) Update(_ context.Context, userID string, fn func(p *model.Profile) error) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profiles[userID].Clone()
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.commit(userID, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// commit 先写文件再替换内存中的映射，调用方持有 s.mu。
func (s *FileProfileStore) commit(userID string, p *model.Profile) error {
	next := make(map[string]*model.Profile, len(s.profiles)+1)
	for k, v := range s.profiles {
		next[k] = v
	}
	next[userID] = p

	if err := s.write(next); err != nil {
		return err
	}
	s.profiles = next
	return nil
}

func (s *FileProfileStore) write(profiles map[string]*model.Profile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	return docutil.WriteBytesAtomic(s.path, data)
}

// Reset 删除全部画像。
func (s *FileProfileStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := make(map[string]*model.Profile)
	if err := s.write(empty); err != nil {
		return err
	}
	s.profiles = empty
	return nil
}

// Close 无操作。
func (s *FileProfileStore) Close() error {
	return nil
}

var _ ProfileStore = (*FileProfileStore)(nil)
