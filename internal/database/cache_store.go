package database

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realty/server/internal/cache"
)

// CacheStore is a cache.DurableStore backed by the cache_items table.
// quotaBytes bounds the sum of key and value sizes; zero disables the check.
type CacheStore struct {
	db         *gorm.DB
	quotaBytes int64
}

func NewCacheStore(d *Database, quotaBytes int64) *CacheStore {
	return &CacheStore{db: d.db, quotaBytes: quotaBytes}
}

func (s *CacheStore) GetItem(key string) (string, bool, error) {
	var item CacheItem
	err := s.db.Where("cache_key = ?", key).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache item: %w", err)
	}
	return item.Value, true, nil
}

func (s *CacheStore) SetItem(key, value string) error {
	size := int64(len(key) + len(value))

	return classify(s.db.Transaction(func(tx *gorm.DB) error {
		if s.quotaBytes > 0 {
			var used int64
			err := tx.Model(&CacheItem{}).
				Where("cache_key <> ?", key).
				Select("COALESCE(SUM(size), 0)").
				Scan(&used).Error
			if err != nil {
				return fmt.Errorf("failed to measure cache usage: %w", err)
			}
			if used+size > s.quotaBytes {
				return cache.ErrQuotaExceeded
			}
		}

		item := CacheItem{Key: key, Value: value, Size: size}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "size", "updated_at"}),
		}).Create(&item).Error
	}))
}

func (s *CacheStore) RemoveItem(key string) error {
	if err := s.db.Where("cache_key = ?", key).Delete(&CacheItem{}).Error; err != nil {
		return fmt.Errorf("failed to remove cache item: %w", err)
	}
	return nil
}

func (s *CacheStore) Keys(prefix string) ([]string, error) {
	var keys []string
	query := s.db.Model(&CacheItem{}).Order("cache_key")
	if prefix != "" {
		// LIKE is case-insensitive in sqlite, prefixes are not
		query = query.Where("substr(cache_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	if err := query.Pluck("cache_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// classify maps a full database onto the cache quota error so callers evict and retry
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %v", cache.ErrQuotaExceeded, err)
	}
	return err
}
