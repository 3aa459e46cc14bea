// Package persistence provides database storage implementations.
package persistence

import (
	"fmt"

	"github.com/archie-dev/archie/internal/database"
)

// saveAllBatchSize bounds the row count per CreateInBatches call across all
// stores in this package.
const saveAllBatchSize = 500

// allModels lists every GORM model AutoMigrate manages.
func allModels() []any {
	return []any{
		&RepositoryModel{},
		&IndexStatusModel{},
		&ChunkDocumentModel{},
		&GraphSnapshotModel{},
		&ConversationModel{},
	}
}

// AutoMigrate creates/updates tables for all Archie models. The FTS5 and
// vector embedding tables are migrated separately by their own stores
// (NewSQLiteBM25Store, NewSQLiteEmbeddingStore, ...) since they use
// backend-specific DDL GORM's AutoMigrate cannot express.
func AutoMigrate(db database.Database) error {
	if err := db.GORM().AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ValidateSchema checks that every column the mappers in this package read
// actually exists, catching a skipped/partial migration early rather than
// surfacing as a confusing runtime GORM error on first query.
func ValidateSchema(db database.Database) error {
	stmt := db.GORM().Statement
	for _, model := range allModels() {
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("parse schema for %T: %w", model, err)
		}
		for _, field := range stmt.Schema.Fields {
			if !db.GORM().Migrator().HasColumn(model, field.DBName) {
				return fmt.Errorf("missing column %s.%s", stmt.Schema.Table, field.DBName)
			}
		}
	}
	return nil
}
