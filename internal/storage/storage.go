// Package storage provides the persistent counterparty store and the
// per-item trade summary ledger.
package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arvx/poeflip/internal/models"
)

// Store wraps the relational database holding counterparties and
// ignored users. Safe for concurrent use; read-modify-write operations
// run in transactions.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&models.Counterparty{}, &models.IgnoredUser{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *gorm.DB { return s.db }
