// Package store 提供引擎的持久化状态：子块向量索引、父块文档库、用户画像与追加写事件日志。
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/kart-io/sage/internal/model"
)

// ErrIndexNotFound 没有已持久化的索引时由 VectorIndex.Load 返回。
var ErrIndexNotFound = errors.New("vector index not found")

// IndexEntry 一个子块向量及其所属父块。
type IndexEntry struct {
	ChunkKey  string
	ParentKey string
	Vector    []float32
}

// IndexMeta 记录构建索引时使用的向量模型。
// 加载时与当前配置不一致的索引需要重建。
type IndexMeta struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Dim      int    `json:"dim"`
}

// SameModel 报告两份元数据是否来自同一供应商与模型。
func (m IndexMeta) SameModel(o IndexMeta) bool {
	return m.Provider == o.Provider && m.Model == o.Model
}

// VectorIndex 子块向量的近邻检索索引。
type VectorIndex interface {
	// Build 用 entries 替换索引内容，meta.Dim 以实际向量维度为准。
	Build(ctx context.Context, meta IndexMeta, entries []IndexEntry) error
	// Save 持久化索引。
	Save(ctx context.Context) error
	// Load 恢复已持久化的索引，不存在时返回 ErrIndexNotFound。
	Load(ctx context.Context) error
	// Meta 返回当前索引的元数据。
	Meta() IndexMeta
	// Query 按相似度降序返回至多 k 条命中。
	Query(ctx context.Context, vector []float32, k int) ([]model.Hit, error)
	// Len 返回已索引的向量数。
	Len() int
}

// ProfileStore 用户画像存储。同一用户的读改写由 Update 串行化。
type ProfileStore interface {
	// Load 返回已存储的画像，未知用户返回空画像。
	Load(ctx context.Context, userID string) (*model.Profile, error)
	// Save 覆盖写入画像。
	Save(ctx context.Context, userID string, p *model.Profile) error
	// Update 加载画像、执行 fn 并保存，同一用户的 Update 调用互斥。
	// fn 失败时不写入任何内容。
	Update(ctx context.Context, userID string, fn func(p *model.Profile) error) (*model.Profile, error)
	// Reset 删除全部画像。
	Reset(ctx context.Context) error
	// Close 释放底层资源。
	Close() error
}

// keyedMutex 按 key 分配互斥锁，无人持有时回收。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock 锁定 key 并返回对应的解锁函数。
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
