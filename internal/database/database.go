package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// CacheItem is one durable cache envelope
type CacheItem struct {
	Key       string `gorm:"column:cache_key;primaryKey;size:512"`
	Value     string `gorm:"type:text;not null"`
	Size      int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (CacheItem) TableName() string {
	return "cache_items"
}

// MirroredProperty is the last-known-good copy of one published listing
type MirroredProperty struct {
	ID        string    `gorm:"primaryKey;size:128"`
	Number    *string   `gorm:"size:64;index"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
	SyncedAt  time.Time `gorm:"not null"`
}

func (MirroredProperty) TableName() string {
	return "mirrored_properties"
}

type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite has a single writer and every :memory: connection is a separate database
	sqlDB.SetMaxOpenConns(1)

	return &Database{db: db, logger: logger}, nil
}

// RunMigrations creates or updates the cache and mirror tables
func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&CacheItem{}, &MirroredProperty{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
