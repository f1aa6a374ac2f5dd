package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/docutil"
	"github.com/kart-io/sage/pkg/utils/json"
)

// SQLProfileStore 通过 GORM 将画像存于关系表。
type SQLProfileStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// OpenSQLiteProfileStore 打开并迁移 path 处的嵌入式 SQLite 数据库。
func OpenSQLiteProfileStore(path string) (*SQLProfileStore, error) {
	if err := docutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return NewSQLProfileStore(db)
}

// NewSQLProfileStore 包装 db 并迁移画像表。
func NewSQLProfileStore(db *gorm.DB) (*SQLProfileStore, error) {
	if err := db.AutoMigrate(&model.ProfileRecord{}); err != nil {
		return nil, fmt.Errorf("migrate user_profiles: %w", err)
	}
	return &SQLProfileStore{db: db, locks: newKeyedMutex()}, nil
}

// Load 返回已存储的画像，不存在时返回空画像。
func (s *SQLProfileStore) Load(ctx context.Context, userID string) (*model.Profile, error) {
	return loadProfileRow(s.db.WithContext(ctx), userID)
}

func loadProfileRow(db *gorm.DB, userID string) (*model.Profile, error) {
	var rec model.ProfileRecord
	err := db.Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.Profile{}, nil
	}
	if err != nil {
		return nil, err
	}

	p := &model.Profile{}
	if err := json.Unmarshal([]byte(rec.Data), p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return p, nil
}

// Save 插入或更新画像行。
func (s *SQLProfileStore) Save(ctx context.Context, userID string, p *model.Profile) error {
	return saveProfileRow(s.db.WithContext(ctx), userID, p)
}

func saveProfileRow(db *gorm.DB, userID string, p *model.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return db.Save(&model.ProfileRecord{UserID: userID, Data: string(data)}).Error
}

// Update 持有用户锁并在事务中完成读改写。
func (s *SQLProfileStore) Update(ctx context.Context, userID string, fn func(p *model.Profile) error) (*model.Profile, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var out *model.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProfileRow(tx, userID)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := saveProfileRow(tx, userID, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reset 删除全部画像行。
func (s *SQLProfileStore) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&model.ProfileRecord{}).Error
}

// Close 关闭底层连接池。
func (s *SQLProfileStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ProfileStore = (*SQLProfileStore)(nil)
