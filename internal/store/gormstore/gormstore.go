// Package gormstore persists session entries in a SQL database through
// gorm, typically a local SQLite file.
package gormstore

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// entry is one stored key.
type entry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:191"`
	Value     []byte
	UpdatedAt time.Time
}

func (entry) TableName() string { return "kv_entries" }

// Store is a gorm backed store.Store.
type Store struct {
	db *gorm.DB
}

// New wraps db, creating the kv_entries table if needed.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv_entries: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenSQLite opens (or creates) the SQLite database at path.
func OpenSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return New(db)
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	var e entry
	tx := s.db.Where("entry_key = ?", key).Limit(1).Find(&e)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (s *Store) Set(key string, value []byte) error {
	e := entry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *Store) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Where("entry_key IN ?", keys).Delete(&entry{}).Error
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
